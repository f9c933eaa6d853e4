// Package importer turns files dropped into an inbox directory into
// cards.
//
// The importer:
// 1. Watches the inbox directory for new or rewritten files
// 2. Debounces rapid writes so a file is imported once it settles
// 3. Creates a card per file through the sync engine
// 4. Moves imported files into a processed/ subdirectory
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheVisher/Pawkit-sub009/internal/model"
)

// Creator creates records. Implemented by the sync engine.
type Creator interface {
	Create(ctx context.Context, kind model.Kind, workspaceID string, data json.RawMessage) (*model.Record, error)
}

// Config holds configuration for the importer.
type Config struct {
	// DebounceInterval is how long a file must sit unchanged before it
	// is imported. This batches editors that write in bursts.
	DebounceInterval time.Duration

	// Logger for importer activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[importer] ", log.LstdFlags),
	}
}

// Importer watches an inbox directory and creates cards from its files.
type Importer struct {
	creator     Creator
	inboxDir    string
	workspaceID string
	config      *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an importer for one inbox directory.
func New(creator Creator, inboxDir, workspaceID string, config *Config) (*Importer, error) {
	if creator == nil {
		return nil, fmt.Errorf("creator cannot be nil")
	}
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if workspaceID == "" {
		return nil, fmt.Errorf("workspaceID cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[importer] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Importer{
		creator:     creator,
		inboxDir:    inboxDir,
		workspaceID: workspaceID,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins watching the inbox. Existing files are imported first,
// then the importer blocks until ctx is cancelled.
func (i *Importer) Start(ctx context.Context) error {
	if err := os.MkdirAll(i.inboxDir, 0755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}
	if err := os.MkdirAll(i.processedDir(), 0755); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}

	if err := i.importExisting(ctx); err != nil {
		return fmt.Errorf("initial import failed: %w", err)
	}

	if err := i.watcher.Add(i.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}
	i.config.Logger.Printf("Watching inbox: %s", i.inboxDir)

	i.wg.Add(2)
	go i.watchFileEvents()
	go i.processChangeQueue()

	select {
	case <-ctx.Done():
		return i.Stop()
	case <-i.ctx.Done():
		return nil
	}
}

// Stop shuts down the importer.
func (i *Importer) Stop() error {
	i.cancel()
	if err := i.watcher.Close(); err != nil {
		i.config.Logger.Printf("Error closing watcher: %v", err)
	}
	i.wg.Wait()
	i.config.Logger.Println("Importer stopped")
	return nil
}

// ImportOnce imports the files currently in the inbox without watching
// for more.
func (i *Importer) ImportOnce(ctx context.Context) error {
	if err := os.MkdirAll(i.processedDir(), 0755); err != nil {
		return fmt.Errorf("failed to create processed directory: %w", err)
	}
	return i.importExisting(ctx)
}

// importExisting imports any files already sitting in the inbox.
func (i *Importer) importExisting(ctx context.Context) error {
	entries, err := os.ReadDir(i.inboxDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !importable(entry.Name()) {
			continue
		}
		path := filepath.Join(i.inboxDir, entry.Name())
		if err := i.importFile(ctx, path); err != nil {
			i.config.Logger.Printf("Warning: failed to import %s: %v", path, err)
		}
	}
	return nil
}

func (i *Importer) watchFileEvents() {
	defer i.wg.Done()

	for {
		select {
		case <-i.ctx.Done():
			return

		case event, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !importable(event.Name) {
				continue
			}
			i.queueChange(event.Name)

		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			i.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (i *Importer) queueChange(path string) {
	i.changeQueueMu.Lock()
	defer i.changeQueueMu.Unlock()
	i.changeQueue[path] = time.Now()
}

// processChangeQueue imports files once their events have settled for
// the debounce interval.
func (i *Importer) processChangeQueue() {
	defer i.wg.Done()

	ticker := time.NewTicker(i.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			i.flushSettled()
		}
	}
}

func (i *Importer) flushSettled() {
	now := time.Now()

	i.changeQueueMu.Lock()
	var ready []string
	for path, last := range i.changeQueue {
		if now.Sub(last) >= i.config.DebounceInterval {
			ready = append(ready, path)
			delete(i.changeQueue, path)
		}
	}
	i.changeQueueMu.Unlock()

	for _, path := range ready {
		if err := i.importFile(i.ctx, path); err != nil {
			i.config.Logger.Printf("Warning: failed to import %s: %v", path, err)
		}
	}
}

// importFile creates a card from one file and moves it to processed/.
func (i *Importer) importFile(ctx context.Context, path string) error {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil // removed before we got to it
	}
	if err != nil {
		return err
	}

	payload, err := cardPayload(filepath.Base(path), content)
	if err != nil {
		return err
	}

	rec, err := i.creator.Create(ctx, model.KindCard, i.workspaceID, payload)
	if err != nil {
		return err
	}
	i.config.Logger.Printf("Imported %s as card %s", filepath.Base(path), rec.ID)

	dest := filepath.Join(i.processedDir(), filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		i.config.Logger.Printf("Warning: failed to archive %s: %v", path, err)
	}
	return nil
}

func (i *Importer) processedDir() string {
	return filepath.Join(i.inboxDir, "processed")
}

// cardPayload builds the card body for one dropped file. A .url file
// becomes a bookmark card; text files become note cards titled by their
// filename.
func cardPayload(name string, content []byte) (json.RawMessage, error) {
	title := strings.TrimSuffix(name, filepath.Ext(name))
	body := map[string]any{
		"title":  title,
		"source": "inbox",
	}
	if filepath.Ext(name) == ".url" {
		body["url"] = strings.TrimSpace(string(content))
	} else {
		body["content"] = string(content)
	}
	return json.Marshal(body)
}

// importable reports whether a file type is handled.
func importable(name string) bool {
	switch filepath.Ext(name) {
	case ".md", ".txt", ".url":
		return true
	default:
		return false
	}
}
