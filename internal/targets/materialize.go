package targets

import (
	"math/rand/v2"
	"strings"

	"github.com/tasooshi/pukpuk/internal/models"
)

// Materialize crosses partial targets with the service matrix:
//   - port and protocol set: kept as is.
//   - only protocol set: the protocol's default port is used.
//   - otherwise: one task per service matrix entry.
//
// The result has set semantics and preserves first-seen order.
func Materialize(targets []models.Target, services []models.Service) []models.ProbeTask {
	seen := make(map[models.ProbeTask]struct{})
	var out []models.ProbeTask
	add := func(t models.ProbeTask) {
		t.Host = strings.ToLower(strings.TrimSpace(t.Host))
		if t.Host == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	for _, t := range targets {
		switch {
		case t.Explicit():
			add(models.ProbeTask{Host: t.Host, Port: t.Port, Protocol: t.Protocol})
		case t.Port == 0 && t.Protocol != models.ProtoUnknown:
			add(models.ProbeTask{Host: t.Host, Port: t.Protocol.DefaultPort(), Protocol: t.Protocol})
		default:
			for _, s := range services {
				add(models.ProbeTask{Host: t.Host, Port: s.Port, Protocol: s.Protocol})
			}
		}
	}
	return out
}

// Shuffle randomizes the order of s in place.
func Shuffle[T any](s []T) {
	rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}
