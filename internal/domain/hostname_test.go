package domain

import "testing"

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"YouTube.Test", "youtube.test"},
		{"  news.test ", "news.test"},
		{"trailing.dot.test.", "trailing.dot.test"},
		{"already.test", "already.test"},
	}

	for _, tt := range tests {
		if got := NormalizeHostname(tt.in); got != tt.expected {
			t.Errorf("NormalizeHostname(%q) = %q, want %q", tt.in, got, tt.expected)
		}
	}
}

func TestNormalizeHostnameIdempotent(t *testing.T) {
	inputs := []string{"YouTube.Test", " x.test. ", "www.news.test"}
	for _, in := range inputs {
		once := NormalizeHostname(in)
		if twice := NormalizeHostname(once); twice != once {
			t.Errorf("normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestHostnameFromURL(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://news.test/article", "news.test"},
		{"http://News.Test:8080/x", "news.test"},
		{"https://www.video.test/watch?v=1", "www.video.test"},
		{"ftp://files.test/", ""},
		{"ext://timewarden/blocked?domain=x", ""},
		{"about:blank", ""},
		{"not a url", ""},
	}

	for _, tt := range tests {
		if got := HostnameFromURL(tt.url); got != tt.expected {
			t.Errorf("HostnameFromURL(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}

func TestMatchesHostname(t *testing.T) {
	tests := []struct {
		configured string
		host       string
		expected   bool
	}{
		{"youtube.test", "youtube.test", true},
		{"youtube.test", "www.youtube.test", true},
		{"youtube.test", "music.youtube.test", false},
		{"www.youtube.test", "www.youtube.test", true},
		{"www.youtube.test", "youtube.test", false},
		{"youtube.test", "", false},
		{"", "youtube.test", false},
	}

	for _, tt := range tests {
		if got := MatchesHostname(tt.configured, tt.host); got != tt.expected {
			t.Errorf("MatchesHostname(%q, %q) = %v, want %v", tt.configured, tt.host, got, tt.expected)
		}
	}
}

func TestMatchConfigured(t *testing.T) {
	configured := []string{"youtube.test", "www.only.test"}

	tests := []struct {
		url      string
		expected string
	}{
		{"https://youtube.test/", "youtube.test"},
		{"https://www.youtube.test/watch", "youtube.test"},
		{"https://music.youtube.test/", ""},
		{"https://www.only.test/", "www.only.test"},
		{"https://only.test/", ""},
		{"ext://timewarden/blocked", ""},
	}

	for _, tt := range tests {
		if got := MatchConfigured(tt.url, configured); got != tt.expected {
			t.Errorf("MatchConfigured(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}
