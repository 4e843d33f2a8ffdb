package migrate

import (
	"github.com/i5heu/ouroboros-catalog/pkg/content"
	"github.com/i5heu/ouroboros-catalog/pkg/model"
	"github.com/pkg/errors"
)

// FilterLegacy returns the entries stored in the legacy encoding, keeping
// their input order. Classification runs on pool. A payload in neither
// encoding fails the whole call.
func FilterLegacy(entries []model.Entry, pool TaskPool) ([]model.Entry, error) {
	if pool == nil {
		pool = SequentialPool{}
	}

	legacy := make([]bool, len(entries))
	jobs := make([]func() error, len(entries))
	for i := range entries {
		i := i
		jobs[i] = func() error {
			enc, err := content.Classify(entries[i].Type, entries[i].Payload)
			if err != nil {
				return errors.Wrapf(err, "classifying %s", entries[i].Key)
			}
			legacy[i] = enc == content.EncodingLegacy
			return nil
		}
	}
	if err := pool.Run(jobs); err != nil {
		return nil, err
	}

	var out []model.Entry
	for i, e := range entries {
		if legacy[i] {
			out = append(out, e)
		}
	}
	return out, nil
}
