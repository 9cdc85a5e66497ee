package targets

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/tasooshi/pukpuk/internal/models"
)

func hosts(ts []models.Target) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Host)
	}
	return out
}

func TestFromNetwork(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "single address", input: "127.0.0.1/32", want: []string{"127.0.0.1"}},
		{name: "small prefix", input: "10.0.0.0/30", want: []string{"10.0.0.0", "10.0.0.1", "10.0.0.2", "10.0.0.3"}},
		{name: "unmasked prefix", input: "10.0.0.5/31", want: []string{"10.0.0.4", "10.0.0.5"}},
		{name: "range", input: "10.0.1.254-10.0.2.1", want: []string{"10.0.1.254", "10.0.1.255", "10.0.2.0", "10.0.2.1"}},
		{name: "ipv6 range", input: "::1-::2", want: []string{"::1", "::2"}},
		{name: "garbage", input: "not-a-network", wantErr: true},
		{name: "plain address", input: "10.0.0.1", wantErr: true},
		{name: "reversed range", input: "10.0.0.9-10.0.0.1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNetwork(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromNetwork() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Errorf("expected ErrInvalidNetwork, got %v", err)
				}
				return
			}
			if g := hosts(got); strings.Join(g, ",") != strings.Join(tt.want, ",") {
				t.Errorf("FromNetwork() = %v, want %v", g, tt.want)
			}
			for _, target := range got {
				if target.Port != 0 || target.Protocol != models.ProtoUnknown {
					t.Errorf("expected partial target, got %+v", target)
				}
			}
		})
	}
}

func TestFromHosts(t *testing.T) {
	input := "10.0.0.1\n\n# comment\n  example.com  \n"
	got, err := FromHosts(strings.NewReader(input))
	if err != nil {
		t.Fatalf("FromHosts() error = %v", err)
	}
	if g := hosts(got); strings.Join(g, ",") != "10.0.0.1,example.com" {
		t.Errorf("FromHosts() = %v", g)
	}
}

func TestFromURLs(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := FromURLs(strings.NewReader("http://a.com:8000/\nhttps://B.com\n"))
		if err != nil {
			t.Fatalf("FromURLs() error = %v", err)
		}
		want := []models.Target{
			{Host: "a.com", Port: 8000, Protocol: models.ProtoHTTP},
			{Host: "b.com", Port: 443, Protocol: models.ProtoHTTPS},
		}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("FromURLs() = %+v, want %+v", got, want)
		}
	})

	t.Run("invalid line", func(t *testing.T) {
		_, err := FromURLs(strings.NewReader("http://a.com\nftp://b.com\n"))
		if !errors.Is(err, ErrInvalidRow) {
			t.Errorf("expected ErrInvalidRow, got %v", err)
		}
	})
}

func TestFromCSV(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		input := "192.168.1.1,443,https\n192.168.1.2,8080,\n# skipped\nexample.com, 81\n"
		got, err := FromCSV(strings.NewReader(input))
		if err != nil {
			t.Fatalf("FromCSV() error = %v", err)
		}
		want := []models.Target{
			{Host: "192.168.1.1", Port: 443, Protocol: models.ProtoHTTPS},
			{Host: "192.168.1.2", Port: 8080},
			{Host: "example.com", Port: 81},
		}
		if len(got) != len(want) {
			t.Fatalf("FromCSV() returned %d targets, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("row %d: got %+v, want %+v", i, got[i], want[i])
			}
		}
	})

	for name, input := range map[string]string{
		"missing port":   "192.168.1.1\n",
		"bad port":       "192.168.1.1,http\n",
		"bad protocol":   "192.168.1.1,21,ftp\n",
		"port too large": "192.168.1.1,70000,http\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := FromCSV(strings.NewReader(input)); !errors.Is(err, ErrInvalidRow) {
				t.Errorf("expected ErrInvalidRow, got %v", err)
			}
		})
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	if err := os.WriteFile(path, []byte("a.com\nb.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FromFile(path, FromHosts)
	if err != nil {
		t.Fatalf("FromFile() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 targets, got %d", len(got))
	}

	if _, err := FromFile(filepath.Join(t.TempDir(), "missing.txt"), FromHosts); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMaterialize(t *testing.T) {
	const ip = "10.0.0.1"
	targets := []models.Target{
		{Host: ip, Port: 8000, Protocol: models.ProtoHTTP},
		{Host: ip, Protocol: models.ProtoHTTP},
		{Host: ip, Port: 8888},
		{Host: ip, Port: 80, Protocol: models.ProtoHTTP},
	}
	services := []models.Service{
		{Port: 8080, Protocol: models.ProtoHTTP},
		{Port: 8443, Protocol: models.ProtoHTTPS},
	}

	got := Materialize(targets, services)
	var keys []string
	for _, task := range got {
		keys = append(keys, task.Host+":"+models.Service{Port: task.Port, Protocol: task.Protocol}.String())
	}
	sort.Strings(keys)
	want := []string{
		ip + ":80/http",
		ip + ":8000/http",
		ip + ":8080/http",
		ip + ":8443/https",
	}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("Materialize() = %v, want %v", keys, want)
	}
}

func TestMaterializeCount(t *testing.T) {
	services := []models.Service{{Port: 80}, {Port: 8080}, {Port: 443, Protocol: models.ProtoHTTPS}}
	targets := []models.Target{
		{Host: "a.com"},
		{Host: "b.com", Port: 8000, Protocol: models.ProtoHTTP},
		{Host: "c.com", Protocol: models.ProtoHTTPS},
		{Host: "d.com", Port: 9000},
	}
	// a.com and d.com expand, b.com is explicit, c.com gets the https port.
	want := len(services) + 1 + 1 + len(services)
	if got := Materialize(targets, services); len(got) != want {
		t.Errorf("expected %d tasks, got %d", want, len(got))
	}

	// Duplicated input collapses, host casing included.
	dup := append(targets, models.Target{Host: "A.COM"}, models.Target{Host: "b.com", Port: 8000, Protocol: models.ProtoHTTP})
	if got := Materialize(dup, services); len(got) != want {
		t.Errorf("expected %d tasks after dedup, got %d", want, len(got))
	}
}

func TestMaterializeIgnoresEmptyHost(t *testing.T) {
	got := Materialize([]models.Target{{Host: "  "}}, []models.Service{{Port: 80}})
	if len(got) != 0 {
		t.Errorf("expected no tasks, got %+v", got)
	}
}

func TestShuffleKeepsElements(t *testing.T) {
	s := []int{1, 2, 3, 4, 5, 6, 7, 8}
	Shuffle(s)
	sorted := append([]int(nil), s...)
	sort.Ints(sorted)
	for i, v := range sorted {
		if v != i+1 {
			t.Fatalf("Shuffle lost elements: %v", s)
		}
	}
}
