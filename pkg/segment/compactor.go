package segment

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/synapsedb/engine/pkg/log"
	"github.com/synapsedb/engine/pkg/metrics"
)

// mergeThreshold is the number of same-level segments that triggers a
// merge into the next level (default 4).
const mergeThreshold = 4

// levelSizeFactor is how much larger each level is expected to be than
// the one above it (default 10x).
const levelSizeFactor = 10

// Compactor runs one background worker per shard that periodically checks
// whether any LSM level has accumulated enough segments to merge down,
// following the same ticker/stopCh run-loop shape as the engine's other
// background workers.
type Compactor struct {
	dir      string
	manifest *Manifest
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCompactor creates a compactor for one shard's segment directory.
func NewCompactor(shardID int, dir string, manifest *Manifest) *Compactor {
	return &Compactor{
		dir:      dir,
		manifest: manifest,
		logger:   log.WithShard(shardID),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background compaction loop.
func (c *Compactor) Start(interval time.Duration) {
	c.wg.Add(1)
	go c.run(interval)
}

// Stop halts the compaction loop and waits for it to exit.
func (c *Compactor) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Compactor) run(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.RunOnce(); err != nil {
				c.logger.Error().Err(err).Msg("compaction cycle failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// RunOnce checks every level for a merge opportunity and performs at most
// one merge, bottom-up, so a single call never does unbounded work.
func (c *Compactor) RunOnce() error {
	maxLevel := 0
	for level := range c.manifest.Levels {
		if level > maxLevel {
			maxLevel = level
		}
	}

	for level := 0; level <= maxLevel; level++ {
		ids := c.manifest.SegmentIDs(level)
		threshold := mergeThreshold
		if level > 0 {
			threshold = mergeThreshold * pow(levelSizeFactor, level)
		}
		if len(ids) >= threshold {
			return c.mergeLevel(level, ids)
		}
	}
	return nil
}

func pow(base, exp int) int {
	n := 1
	for i := 0; i < exp; i++ {
		n *= base
	}
	return n
}

func (c *Compactor) mergeLevel(level int, ids []uint64) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.CompactionDuration, fmt.Sprint(level))
	}()

	var merged []Record
	loaded := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		seg, err := LoadSegment(segmentPathFor(c.dir, id), id, level)
		if err != nil {
			return fmt.Errorf("compactor: load segment %d: %w", id, err)
		}
		loaded = append(loaded, seg)
	}
	for _, seg := range loaded {
		sortRecords(seg.Records)
		if merged == nil {
			merged = seg.Records
		} else {
			merged = mergeSorted(merged, seg.Records)
		}
	}

	highest := true
	for l, segIDs := range c.manifest.Levels {
		if l > level && len(segIDs) > 0 {
			highest = false
		}
	}
	if highest {
		merged = dropDeadTombstones(merged)
	}

	newID, err := c.manifest.NextID()
	if err != nil {
		return err
	}
	nextLevel := level + 1
	if _, err := WriteSegment(c.dir, newID, nextLevel, merged); err != nil {
		return err
	}
	if err := c.manifest.AddSegment(nextLevel, newID); err != nil {
		return err
	}
	if err := c.manifest.ReplaceLevel(level, nil); err != nil {
		return err
	}

	for _, id := range ids {
		if err := removeSegmentFile(segmentPathFor(c.dir, id)); err != nil {
			c.logger.Warn().Err(err).Uint64("segment_id", id).Msg("failed to remove merged segment file")
		}
	}

	c.logger.Info().Int("level", level).Int("merged_segments", len(ids)).Int("records", len(merged)).Msg("compaction merge complete")
	return nil
}

// dropDeadTombstones removes tombstone records. mergeLevel calls it only
// when no level above the one being merged holds segments, so the merge
// output is the highest level and no older, pre-tombstone version of the
// concept remains anywhere for the tombstone to shadow.
func dropDeadTombstones(records []Record) []Record {
	out := records[:0]
	for _, r := range records {
		if r.Tombstone {
			continue
		}
		out = append(out, r)
	}
	return out
}

func segmentPathFor(dir string, id uint64) string {
	return dir + "/" + segmentFilename(id)
}

func removeSegmentFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
