// Package refdata loads the threat actor and tool reference data that
// drives entity tagging. The upstream format is the Threat Group Cards
// JSON export; a local file path works as a source for air-gapped setups.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rfletcher/intelforge/internal/enrich"
	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
)

// EntityWriter is the slice of the entity store the refresher needs.
type EntityWriter interface {
	Upsert(ctx context.Context, kind string, entities []models.Entity) error
	ListAll(ctx context.Context) ([]models.Entity, error)
}

// Config names the two card sources. Each source is either an http(s) URL
// or a local file path.
type Config struct {
	ActorsSource string
	ToolsSource  string
}

// Refresher downloads the cards, stores the flattened entities, and swaps
// a freshly built recognizer into the tagger.
type Refresher struct {
	cfg    Config
	store  EntityWriter
	tagger *enrich.Tagger
	client *http.Client
	logger *logging.Logger
}

func NewRefresher(cfg Config, store EntityWriter, tagger *enrich.Tagger, logger *logging.Logger) *Refresher {
	return &Refresher{
		cfg:    cfg,
		store:  store,
		tagger: tagger,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Refresh reloads both card sources. A failure in one source does not
// block the other; the recognizer is rebuilt from whatever the store
// holds afterwards.
func (r *Refresher) Refresh(ctx context.Context) error {
	var firstErr error

	if actors, err := r.loadActors(ctx); err != nil {
		r.logger.Error("actor card refresh failed", logging.WithField("error", err.Error()))
		firstErr = err
	} else if err := r.store.Upsert(ctx, models.EntityActor, actors); err != nil {
		r.logger.Error("actor upsert failed", logging.WithField("error", err.Error()))
		firstErr = err
	} else {
		r.logger.Info("actor cards refreshed", logging.WithField("count", len(actors)))
	}

	if tools, err := r.loadTools(ctx); err != nil {
		r.logger.Error("tool card refresh failed", logging.WithField("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	} else if err := r.store.Upsert(ctx, models.EntityTool, tools); err != nil {
		r.logger.Error("tool upsert failed", logging.WithField("error", err.Error()))
		if firstErr == nil {
			firstErr = err
		}
	} else {
		r.logger.Info("tool cards refreshed", logging.WithField("count", len(tools)))
	}

	if err := r.RebuildRecognizer(ctx); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RebuildRecognizer reconstructs the phrase matcher from the stored
// entities and installs it on the tagger.
func (r *Refresher) RebuildRecognizer(ctx context.Context) error {
	entities, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	recognizer := enrich.NewRecognizer(entities)
	if r.tagger != nil {
		r.tagger.SetRecognizer(recognizer)
	}
	r.logger.Info("recognizer rebuilt",
		logging.WithField("entities", len(entities)),
		logging.WithField("phrases", recognizer.PhraseCount()))
	return nil
}

func (r *Refresher) loadActors(ctx context.Context) ([]models.Entity, error) {
	data, err := r.fetch(ctx, r.cfg.ActorsSource)
	if err != nil {
		return nil, err
	}
	return ParseActorCards(data)
}

func (r *Refresher) loadTools(ctx context.Context) ([]models.Entity, error) {
	data, err := r.fetch(ctx, r.cfg.ToolsSource)
	if err != nil {
		return nil, err
	}
	return ParseToolCards(data)
}

func (r *Refresher) fetch(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, fmt.Errorf("no source configured")
	}
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read card file %s: %w", source, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "intelforge/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cards from %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card source %s returned status %d", source, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Card wire format. The export is either one card or a list of cards,
// each holding a values array of individual entries.

type card struct {
	Category string      `json:"category"`
	Values   []cardValue `json:"values"`
}

type cardValue struct {
	UUID        string      `json:"uuid"`
	Actor       string      `json:"actor"`
	Tool        string      `json:"tool"`
	Names       []cardName  `json:"names"`
	Country     stringOrSet `json:"country"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
}

type cardName struct {
	Name string `json:"name"`
}

// stringOrSet absorbs fields the export serializes as either a string or
// a list of strings.
type stringOrSet []string

func (s *stringOrSet) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = stringOrSet{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = stringOrSet(many)
	return nil
}

func parseCards(data []byte) ([]card, error) {
	var many []card
	if err := json.Unmarshal(data, &many); err == nil {
		return many, nil
	}
	var one card
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse cards: %w", err)
	}
	return []card{one}, nil
}

// ParseActorCards flattens a groups card export into actor entities.
func ParseActorCards(data []byte) ([]models.Entity, error) {
	cards, err := parseCards(data)
	if err != nil {
		return nil, err
	}

	var entities []models.Entity
	for _, c := range cards {
		for _, v := range c.Values {
			name := strings.TrimSpace(v.Actor)
			if name == "" || v.UUID == "" {
				continue
			}
			entities = append(entities, models.Entity{
				ID:          v.UUID,
				Kind:        models.EntityActor,
				Name:        name,
				Aliases:     aliasesFrom(name, v.Names),
				Category:    strings.Join(v.Country, ", "),
				Description: v.Description,
			})
		}
	}
	return entities, nil
}

// ParseToolCards flattens a tools card export into tool entities.
func ParseToolCards(data []byte) ([]models.Entity, error) {
	cards, err := parseCards(data)
	if err != nil {
		return nil, err
	}

	var entities []models.Entity
	for _, c := range cards {
		for _, v := range c.Values {
			name := strings.TrimSpace(v.Tool)
			if name == "" || v.UUID == "" {
				continue
			}
			entities = append(entities, models.Entity{
				ID:          v.UUID,
				Kind:        models.EntityTool,
				Name:        name,
				Aliases:     aliasesFrom(name, v.Names),
				Category:    v.Category,
				Description: v.Description,
			})
		}
	}
	return entities, nil
}

func aliasesFrom(primary string, names []cardName) []string {
	aliases := make([]string, 0, len(names))
	for _, n := range names {
		alias := strings.TrimSpace(n.Name)
		if alias == "" || strings.EqualFold(alias, primary) {
			continue
		}
		aliases = append(aliases, alias)
	}
	return aliases
}
