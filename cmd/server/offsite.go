package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"worldmemory.ai/internal/persistence/offsite"
)

type offsiteRuntime struct {
	enabled bool
	mirror  *offsite.Mirror
}

func buildOffsiteRuntime(dataDir string, logger *log.Logger) (*offsiteRuntime, error) {
	if !envBool("MWP_OFFSITE_MIRROR", false) {
		return &offsiteRuntime{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("MWP_OFFSITE_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("MWP_OFFSITE_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("MWP_OFFSITE_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("MWP_OFFSITE_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("MWP_OFFSITE_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("MWP_OFFSITE_MIRROR=true but MWP_OFFSITE_ENDPOINT/MWP_OFFSITE_BUCKET/MWP_OFFSITE_ACCESS_KEY_ID/MWP_OFFSITE_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := offsite.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}
	workers := envInt("MWP_OFFSITE_UPLOAD_WORKERS", 2)
	queue := envInt("MWP_OFFSITE_QUEUE", 2048)
	wait := time.Duration(envInt("MWP_OFFSITE_ENQUEUE_WAIT_MS", 25)) * time.Millisecond
	return &offsiteRuntime{
		enabled: true,
		mirror:  offsite.NewMirror(client, dataDir, prefix, workers, queue, wait, logger),
	}, nil
}

func (r *offsiteRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *offsiteRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
