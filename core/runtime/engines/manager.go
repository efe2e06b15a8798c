package engines

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/logger"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

// Manager holds one engine per data source with parallel initialization and
// shutdown. Sources added to the catalog after startup get their engine
// lazily via Ensure.
type Manager struct {
	engines map[string]Engine
	mu      sync.RWMutex
}

// NewManager creates a new Manager instance.
func NewManager() *Manager {
	return &Manager{
		engines: make(map[string]Engine),
	}
}

// InitializeAll creates all engines in parallel from the given data sources.
// If any engine fails to initialize, all successfully created engines are
// closed.
func (m *Manager) InitializeAll(ctx context.Context, sources []catalog.DataSource) error {
	if len(sources) == 0 {
		return nil
	}

	log := logger.New("engines")
	log.Info("Initializing engines:")

	g, gctx := errgroup.WithContext(ctx)

	for _, ds := range sources {
		g.Go(func() error {
			log.Infof("\tConnecting '%s' (%s)", ds.ID, ds.EffectiveDialect())

			eng, err := NewEngine(gctx, ds)
			if err != nil {
				return fmt.Errorf("failed to create engine for data source '%s': %w", ds.ID, err)
			}

			m.mu.Lock()
			m.engines[ds.ID] = eng
			m.mu.Unlock()

			log.Infof("\t  Connected '%s'", ds.ID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.CloseAll()
		return err
	}

	return nil
}

// Ensure returns the engine for the data source, creating it on first use.
func (m *Manager) Ensure(ctx context.Context, ds catalog.DataSource) (Engine, error) {
	if eng, ok := m.Get(ds.ID); ok {
		return eng, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[ds.ID]; ok {
		return eng, nil
	}

	eng, err := NewEngine(ctx, ds)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeConnectionFailed,
			fmt.Sprintf("data source '%s'", ds.ID), err)
	}
	m.engines[ds.ID] = eng
	return eng, nil
}

// CloseAll closes all engines in parallel, collecting and returning all errors.
func (m *Manager) CloseAll() error {
	m.mu.RLock()
	engineCount := len(m.engines)
	if engineCount == 0 {
		m.mu.RUnlock()
		return nil
	}

	var wg sync.WaitGroup
	errChan := make(chan error, engineCount)

	log := logger.New("engines")
	log.Debugf("Closing %d engine(s)...", engineCount)

	for id, eng := range m.engines {
		wg.Add(1)
		go func(id string, eng Engine) {
			defer wg.Done()
			log.Debugf("  Closing engine '%s'...", id)
			if err := eng.Close(); err != nil {
				errChan <- fmt.Errorf("engine '%s': %w", id, err)
			} else {
				log.Debugf("  Engine '%s' closed", id)
			}
		}(id, eng)
	}
	m.mu.RUnlock()

	wg.Wait()
	close(errChan)

	m.mu.Lock()
	m.engines = make(map[string]Engine)
	m.mu.Unlock()

	return collectErrors(errChan)
}

// Get returns an engine by data source id.
func (m *Manager) Get(id string) (Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eng, exists := m.engines[id]
	return eng, exists
}

// GetAll returns a copy of the engines map.
func (m *Manager) GetAll() map[string]Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]Engine, len(m.engines))
	maps.Copy(result, m.engines)
	return result
}

// Count returns the number of managed engines.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

// collectErrors collects all errors from a channel and combines them.
func collectErrors(errChan <-chan error) error {
	var errs []error
	for err := range errChan {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}

	if len(errs) == 1 {
		return errs[0]
	}

	return errors.Join(errs...)
}
