// Command trigger-sweep calls the sweep endpoint once. It is meant to be run
// by an external scheduler such as a Kubernetes CronJob.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"postwise.io/internal/config"
	"postwise.io/internal/obs"
	"postwise.io/internal/platform"
)

type sweepSummary struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Published int      `json:"published"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

func main() {
	log := obs.Logger()
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	var (
		baseURL = flag.String("url", cfg.PublicURL, "Base URL of the postwise API")
		timeout = flag.Duration("timeout", 10*time.Minute, "Request timeout")
	)
	flag.Parse()

	client := platform.NewClient(*timeout)
	req := platform.Request{
		Method: http.MethodPost,
		URL:    strings.TrimRight(*baseURL, "/") + "/v1/social/publisher",
	}
	if cfg.CronSecret != "" {
		req.Bearer = cfg.CronSecret
	}

	var summary sweepSummary
	if _, err := client.Do(context.Background(), req, &summary); err != nil {
		log.WithError(err).Error("sweep trigger failed")
		os.Exit(1)
	}

	log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"published": summary.Published,
		"failed":    summary.Failed,
	}).Info("sweep_triggered")
	if len(summary.Errors) > 0 {
		out, _ := json.MarshalIndent(summary.Errors, "", "  ")
		fmt.Fprintln(os.Stderr, string(out))
	}
}
