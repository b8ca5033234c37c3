package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spherical-ai/spherical/libs/deal-engine/internal/cache"
)

// KVStore keeps the document in a key-value backend: one hash per entry, one
// hash per make/model of trim options and a single hash of slugs. Each field
// is written on its own so concurrent runs do not clobber each other.
type KVStore struct {
	client cache.Client
}

// NewKVStore wraps a cache client.
func NewKVStore(client cache.Client) *KVStore {
	return &KVStore{client: client}
}

// Load assembles a document from all stored hashes.
func (s *KVStore) Load(ctx context.Context) (*Document, error) {
	doc := NewDocument()

	slugs, err := s.client.HGetAll(ctx, cache.SlugsKey)
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("load slugs: %w", err)
	}
	for k, v := range slugs {
		doc.ModelSlugs[k] = v
	}

	trimKeys, err := s.client.Keys(ctx, cache.TrimOptionsKey(""))
	if err != nil {
		return nil, fmt.Errorf("list trim options: %w", err)
	}
	for _, key := range trimKeys {
		years, err := s.client.HGetAll(ctx, key)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		makeModel := strings.TrimPrefix(key, cache.TrimOptionsKey(""))
		for year, raw := range years {
			var trims []string
			if err := json.Unmarshal([]byte(raw), &trims); err != nil {
				return nil, fmt.Errorf("decode %s/%s: %w", key, year, err)
			}
			doc.SetTrimOptions(makeModel, year, trims)
		}
	}

	entryKeys, err := s.client.Keys(ctx, cache.EntryKey(""))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	for _, key := range entryKeys {
		fields, err := s.client.HGetAll(ctx, key)
		if errors.Is(err, cache.ErrCacheMiss) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		e, err := entryFromFields(fields)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		doc.Entries[strings.TrimPrefix(key, cache.EntryKey(""))] = e
	}
	return doc, nil
}

// Save writes every set field of doc.
func (s *KVStore) Save(ctx context.Context, doc *Document) error {
	if len(doc.ModelSlugs) > 0 {
		if err := s.client.HSet(ctx, cache.SlugsKey, doc.ModelSlugs); err != nil {
			return fmt.Errorf("save slugs: %w", err)
		}
	}
	for makeModel, years := range doc.TrimOptions {
		fields := make(map[string]string, len(years))
		for year, trims := range years {
			raw, err := json.Marshal(trims)
			if err != nil {
				return fmt.Errorf("encode trim options: %w", err)
			}
			fields[year] = string(raw)
		}
		if err := s.client.HSet(ctx, cache.TrimOptionsKey(makeModel), fields); err != nil {
			return fmt.Errorf("save trim options %s: %w", makeModel, err)
		}
	}
	for key, e := range doc.Entries {
		if e == nil {
			continue
		}
		fields, err := entryFields(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", key, err)
		}
		if err := s.client.HSet(ctx, cache.EntryKey(key), fields); err != nil {
			return fmt.Errorf("save entry %s: %w", key, err)
		}
		var cleared []string
		if e.NoFMV {
			cleared = append(cleared, "fmv")
		}
		if e.skipCleared && e.SkipReason == "" {
			cleared = append(cleared, "skip_reason")
		}
		if len(cleared) > 0 {
			if err := s.client.HDel(ctx, cache.EntryKey(key), cleared...); err != nil {
				return fmt.Errorf("clear %v on %s: %w", cleared, key, err)
			}
		}
	}
	return nil
}

// entryFields flattens the set fields of e into raw JSON values.
func entryFields(e *Entry) (map[string]string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(raw)+1)
	for k, v := range raw {
		fields[k] = string(v)
	}
	if e.FMV != nil {
		fields["no_fmv"] = "false"
	}
	return fields, nil
}

func entryFromFields(fields map[string]string) (*Entry, error) {
	raw := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		raw[k] = json.RawMessage(v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	e := &Entry{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}
