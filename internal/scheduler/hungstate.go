package scheduler

import (
	"os"
	"path/filepath"
	"time"

	"github.com/elsker-net/linkwatch/internal/registry"
)

// The external state-directory hook: an external process
// may deposit a file named after a host's label under the configured
// directory, whose mtime is an earlier, more accurate "last response"
// instant than what this daemon recorded (e.g. a service-level health
// check noticed the host hang before ICMP did). Feature-gated, off by
// default (dir == "" disables it — see Scheduler.hungServiceOffsets).

// rewindHungState is the recovery-path half of the hook: invoked as a
// host transitions back up, it rewinds the host's recorded
// LastResponseTS to the state file's mtime when that is earlier, so the
// downtime about to be accumulated covers the hang the external process
// observed. The file is consumed.
func rewindHungState(dir string, h *registry.Host) {
	path := filepath.Join(dir, h.Label)
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mtime := info.ModTime()
	if h.LastResponseTS.IsZero() || mtime.Before(h.LastResponseTS) {
		h.LastResponseTS = mtime
	}
	_ = os.Remove(path)
}

// scanHungStateDir is the report-path half: for every host currently
// down whose state file is older than the host's last-response instant
// (LastResponseTS, or the daemon's start for a host that never replied),
// the extra downtime the earlier mtime implies is returned as that
// host's offset and the file is consumed. The SLA report's own
// in-progress computation already covers last-response-to-now, so the
// offset is only the slice between mtime and last response.
func scanHungStateDir(dir string, reg *registry.Registry, start time.Time) map[int]float64 {
	offsets := make(map[int]float64)

	reg.Each(func(h *registry.Host) {
		if h.Alive {
			return
		}

		path := filepath.Join(dir, h.Label)
		info, err := os.Stat(path)
		if err != nil {
			return
		}

		from := h.LastResponseTS
		if from.IsZero() {
			from = start
		}

		mtime := info.ModTime()
		if !mtime.Before(from) {
			// Not earlier than what we already have; nothing to rewind.
			return
		}

		offsets[h.Index] = from.Sub(mtime).Seconds()
		_ = os.Remove(path)
	})

	return offsets
}
