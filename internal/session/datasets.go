package session

import (
	"context"

	"github.com/sandboxd/sandboxd/internal/apperr"
	"github.com/sandboxd/sandboxd/internal/datasets"
)

// LoadDatasets stages every dataset id not yet cached for sessionID,
// delegating to internal/datasets for the actual HYBRID/API/LOCAL_RO
// dispatch and PENDING->LOADED/FAILED bookkeeping. Grounded on
// session_manager.py's callers invoking dataset_manager.sync before running
// code that expects /data to be populated.
func (m *Manager) LoadDatasets(ctx context.Context, sessionID string, dsIDs []string) ([]datasets.Descriptor, error) {
	info, ok := m.get(sessionID)
	if !ok {
		return nil, apperr.New(apperr.KindUnknownSession, sessionID)
	}

	for _, id := range dsIDs {
		cached, err := datasets.IsCached(m.cfg, sessionID, id)
		if err != nil {
			return nil, err
		}
		if !cached {
			if _, err := datasets.AddEntry(m.cfg, sessionID, id, datasets.StatusPending); err != nil {
				return nil, err
			}
		}
	}

	pending, err := datasets.ReadPendingIDs(m.cfg, sessionID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	return datasets.LoadPendingDatasets(ctx, m.cfg, m.runtime, sessionID, info.ContainerID, m.fetch, pending)
}
