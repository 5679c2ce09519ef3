package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// UpdateManifest is the JSON document served at the manifest URL.
type UpdateManifest struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Notes   string `json:"notes,omitempty"`
}

// Updater polls the update manifest and surfaces newer versions through the
// status hash. Checks are suppressed while the tuning transform is active so
// an update never interrupts a ride. Installation is left to the host's
// package tooling.
type Updater struct {
	url          string
	interval     time.Duration
	tuningActive func() bool
	client       *http.Client

	available string // last version seen that is newer than ours
}

func NewUpdater(url string, interval time.Duration, tuningActive func() bool) *Updater {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if tuningActive == nil {
		tuningActive = func() bool { return false }
	}
	return &Updater{
		url:          url,
		interval:     interval,
		tuningActive: tuningActive,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (u *Updater) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(u.interval)
		defer ticker.Stop()
		log.Infof("[UPDATE] checking %s every %s", u.url, u.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if u.tuningActive() {
					log.Debugf("[UPDATE] tuning active, skipping check")
					continue
				}
				u.check(ctx)
			}
		}
	}()
}

func (u *Updater) check(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.url, nil)
	if err != nil {
		log.Errorf("[UPDATE] bad manifest URL: %v", err)
		return
	}
	resp, err := u.client.Do(req)
	if err != nil {
		log.Debugf("[UPDATE] manifest fetch failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Debugf("[UPDATE] manifest fetch: HTTP %d", resp.StatusCode)
		return
	}

	var manifest UpdateManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		log.Errorf("[UPDATE] bad manifest: %v", err)
		return
	}

	if manifest.Version == "" || manifest.Version == ProjectVersion {
		return
	}
	if manifest.Version == u.available {
		return
	}
	u.available = manifest.Version
	log.Infof("[UPDATE] version %s available (running %s): %s",
		manifest.Version, ProjectVersion, manifest.URL)
}
