package main

import (
	"testing"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
)

func TestDefaultDestination(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/files/movie.mkv", "movie.mkv"},
		{"https://example.com/files/movie.mkv?sig=abc", "movie.mkv"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
		{"://bad", "download"},
	}
	for _, tt := range tests {
		if got := defaultDestination(tt.url); got != tt.want {
			t.Errorf("defaultDestination(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestProgressLine(t *testing.T) {
	tests := []struct {
		name string
		in   domain.ProgressUpdate
		want string
	}{
		{"known total", domain.ProgressUpdate{BytesDownloaded: 512, BytesTotal: 1024}, "512 B / 1.0 KiB (50.0%)"},
		{"unknown total", domain.ProgressUpdate{BytesDownloaded: 2048, BytesTotal: -1}, "2.0 KiB downloaded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressLine(tt.in); got != tt.want {
				t.Errorf("progressLine() = %q, want %q", got, tt.want)
			}
		})
	}
}
