package oss

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManifestKey(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	assert.Equal(t, "carousel-results/job-1/1700000000.json", ManifestKey("job-1", ts))
}

func TestExtractObjectKey(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		cdnDomain string
		want      string
	}{
		{
			name:      "cdn domain",
			url:       "https://cdn.example.com/carousel-results/job-1/1.json",
			cdnDomain: "cdn.example.com",
			want:      "carousel-results/job-1/1.json",
		},
		{
			name: "bucket endpoint",
			url:  "https://bucket.oss-cn-hangzhou.aliyuncs.com/carousel-results/job-2/2.json",
			want: "carousel-results/job-2/2.json",
		},
		{
			name:      "cdn configured but url uses endpoint",
			url:       "https://bucket.oss-cn-hangzhou.aliyuncs.com/a/b.json",
			cdnDomain: "cdn.example.com",
			want:      "a/b.json",
		},
		{
			name: "bare name",
			url:  "manifest.json",
			want: "manifest.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractObjectKey(tt.url, tt.cdnDomain))
		})
	}
}
