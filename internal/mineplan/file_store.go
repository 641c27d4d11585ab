package mineplan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"tubebank/internal/errs"
	"tubebank/internal/geo"
	"tubebank/internal/telemetry/logging"
)

// fileRecord is the on-disk shape for one plan list: plain YAML, matching
// MineDropPlanManager's own "simple struct instead of a JSON library"
// fallback, adapted to yaml.v3 since that is the teacher's serialization
// library of choice rather than introducing a new one for a single file
// format.
type fileRecord struct {
	ListNumber uint32 `yaml:"list_number"`
	Plans      []struct {
		Number    uint32      `yaml:"number"`
		Waypoints []yamlPoint `yaml:"waypoints"`
	} `yaml:"plans"`
}

type yamlPoint struct {
	LatDeg float64 `yaml:"lat_deg"`
	LonDeg float64 `yaml:"lon_deg"`
	DepthM float64 `yaml:"depth_m"`
}

// FileStore is a directory-backed Store: one YAML file per plan list,
// named "<listNumber>.yaml". A fsnotify watch on the directory lets callers
// react to externally-written files (e.g. a companion editor tool) via
// OnChange, following the hot-reload pattern internal/config also uses.
type FileStore struct {
	dir    string
	logger logging.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher

	OnChange func(listNumber uint32)
}

// NewFileStore constructs a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string, logger logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.New(nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mineplan: create dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) path(listNumber uint32) string {
	return filepath.Join(s.dir, strconv.FormatUint(uint64(listNumber), 10)+".yaml")
}

// Load reads and parses listNumber's file, validating it against the rules
// in mineplan.go.
func (s *FileStore) Load(listNumber uint32) (PlanList, error) {
	data, err := os.ReadFile(s.path(listNumber))
	if err != nil {
		return PlanList{}, fmt.Errorf("mineplan: load list %d: %w", listNumber, err)
	}
	var rec fileRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return PlanList{}, fmt.Errorf("mineplan: parse list %d: %w", listNumber, err)
	}
	list := fromRecord(rec)
	if err := list.Validate(); err != nil {
		return PlanList{}, err
	}
	return list, nil
}

// Save validates and writes list to its file, overwriting any prior
// contents.
func (s *FileStore) Save(list PlanList) error {
	if err := list.Validate(); err != nil {
		return err
	}
	rec := toRecord(list)
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("mineplan: marshal list %d: %w", list.Number, err)
	}
	if err := os.WriteFile(s.path(list.Number), data, 0o644); err != nil {
		return fmt.Errorf("mineplan: write list %d: %w", list.Number, err)
	}
	return nil
}

// Delete removes listNumber's file. Deleting an absent list is a no-op.
func (s *FileStore) Delete(listNumber uint32) error {
	if err := os.Remove(s.path(listNumber)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("mineplan: delete list %d: %w", listNumber, err)
	}
	return nil
}

// AvailableListNumbers scans the directory for plan-list files, bounded to
// MaxPlanLists the way MineDropPlanManager caps concurrently held lists.
func (s *FileStore) AvailableListNumbers() ([]uint32, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("mineplan: scan dir: %w", err)
	}
	var nums []uint32
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".yaml")
		if name == e.Name() {
			continue
		}
		n, err := strconv.ParseUint(name, 10, 32)
		if err != nil {
			continue
		}
		nums = append(nums, uint32(n))
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	if len(nums) > MaxPlanLists {
		return nil, fmt.Errorf("mineplan: %d lists on disk exceeds max %d: %w", len(nums), MaxPlanLists, errs.ErrInvalidWaypoint)
	}
	return nums, nil
}

// Watch starts an fsnotify watch on the store directory and invokes
// OnChange for each write/create event naming a well-formed list file. It
// blocks until ctx is cancelled or Close is called.
func (s *FileStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mineplan: new watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("mineplan: watch dir: %w", err)
	}
	s.mu.Lock()
	s.watcher = w
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(ev.Name), ".yaml")
			n, err := strconv.ParseUint(name, 10, 32)
			if err != nil {
				continue
			}
			if s.OnChange != nil {
				s.OnChange(uint32(n))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.ErrorCtx(ctx, "mineplan watch error", "err", err.Error())
		}
	}
}

// Close stops an in-progress Watch, if any.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

func toRecord(list PlanList) fileRecord {
	rec := fileRecord{ListNumber: list.Number}
	for _, p := range list.Plans {
		entry := struct {
			Number    uint32      `yaml:"number"`
			Waypoints []yamlPoint `yaml:"waypoints"`
		}{Number: p.Number}
		for _, wp := range p.Waypoints {
			entry.Waypoints = append(entry.Waypoints, yamlPoint{LatDeg: wp.LatDeg, LonDeg: wp.LonDeg, DepthM: wp.DepthM})
		}
		rec.Plans = append(rec.Plans, entry)
	}
	return rec
}

func fromRecord(rec fileRecord) PlanList {
	list := PlanList{Number: rec.ListNumber}
	for _, entry := range rec.Plans {
		p := Plan{Number: entry.Number}
		for _, wp := range entry.Waypoints {
			p.Waypoints = append(p.Waypoints, geo.Point3D{
				Point2D: geo.Point2D{LatDeg: wp.LatDeg, LonDeg: wp.LonDeg},
				DepthM:  wp.DepthM,
			})
		}
		list.Plans = append(list.Plans, p)
	}
	return list
}
