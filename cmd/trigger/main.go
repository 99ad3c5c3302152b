// Command trigger enqueues a MultitrackPipeline run from a recording
// manifest JSON file, for operators and integration tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Monadical-SAS/reflector/pipeline"
	"github.com/Monadical-SAS/reflector/taskgraph"
)

func main() {
	manifestPath := flag.String("manifest", "", "path to recording manifest JSON")
	redisAddr := flag.String("redis", "localhost:6379", "redis address of the run queue")
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "usage: trigger -manifest manifest.json [-redis addr]")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger: read manifest: %v\n", err)
		os.Exit(1)
	}

	var manifest pipeline.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		fmt.Fprintf(os.Stderr, "trigger: parse manifest: %v\n", err)
		os.Exit(1)
	}
	if manifest.RecordingID == "" || manifest.TranscriptID == "" || manifest.Bucket == "" || len(manifest.Tracks) == 0 {
		fmt.Fprintln(os.Stderr, "trigger: manifest needs recording_id, transcript_id, bucket, and at least one track")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	queue := taskgraph.NewRunQueue(client, "")
	if err := queue.Enqueue(ctx, raw); err != nil {
		fmt.Fprintf(os.Stderr, "trigger: %v\n", err)
		os.Exit(1)
	}

	depth, _ := queue.Depth(ctx)
	fmt.Printf("enqueued run for recording %s (queue depth %d)\n", manifest.RecordingID, depth)
}
