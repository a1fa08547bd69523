package store

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/oklog/ulid/v2"
)

// EntityKind identifies one of the stored entity types.
type EntityKind string

const (
	KindEpisode EntityKind = "episode"
	KindFact    EntityKind = "fact"
	KindRule    EntityKind = "rule"
)

// ValidKind returns true for a known entity kind.
func ValidKind(k EntityKind) bool {
	return k == KindEpisode || k == KindFact || k == KindRule
}

// Permanence buckets a fact into a named decay rate.
type Permanence string

const (
	PermanencePermanent Permanence = "permanent"
	PermanenceStable    Permanence = "stable"
	PermanenceStandard  Permanence = "standard"
	PermanenceVolatile  Permanence = "volatile"
	PermanenceEphemeral Permanence = "ephemeral"
)

// decayRates maps each permanence class to its decay rate in 1/days.
// permanent is exactly zero: those facts never decay.
var decayRates = map[Permanence]float64{
	PermanencePermanent: 0,
	PermanenceStable:    0.002,
	PermanenceStandard:  0.01,
	PermanenceVolatile:  0.05,
	PermanenceEphemeral: 0.2,
}

// Valid returns true if p is one of the five fixed permanence classes.
func (p Permanence) Valid() bool {
	_, ok := decayRates[p]
	return ok
}

// DecayRate returns the decay rate for the permanence class (0 for unknown).
func (p Permanence) DecayRate() float64 {
	return decayRates[p]
}

// Validity is the lifecycle state of a fact or rule.
type Validity string

const (
	ValidityActive     Validity = "active"
	ValidityFading     Validity = "fading"
	ValidityExpired    Validity = "expired"
	ValiditySuperseded Validity = "superseded"
	ValidityForgotten  Validity = "forgotten"
)

// Maturity is the earned-trust level of a rule.
type Maturity string

const (
	MaturityCandidate   Maturity = "candidate"
	MaturityEstablished Maturity = "established"
	MaturityProven      Maturity = "proven"
	MaturityAntiPattern Maturity = "anti-pattern"
)

// Relation labels a provenance edge between two entities.
type Relation string

const (
	RelationDerivedFrom Relation = "derived_from"
	RelationSupports    Relation = "supports"
	RelationContradicts Relation = "contradicts"
	RelationSupersedes  Relation = "supersedes"
)

// ValidRelation returns true for a known link relation.
func ValidRelation(r Relation) bool {
	switch r {
	case RelationDerivedFrom, RelationSupports, RelationContradicts, RelationSupersedes:
		return true
	}
	return false
}

// ScopeGlobal is the scope visible to every caller. Episodes never use it.
const ScopeGlobal = "global"

// Episode is a raw observation awaiting consolidation.
type Episode struct {
	ID            string             `json:"id"`
	Scope         string             `json:"scope"`
	Content       string             `json:"content"`
	Embedding     []float64          `json:"-"`
	Lexical       map[string]float64 `json:"-"`
	SourceSession string             `json:"source_session,omitempty"`
	CreatedAt     int64              `json:"created_at"`
	ExpiresAt     int64              `json:"expires_at"`
	Consolidated  bool               `json:"consolidated"`
}

// Fact is distilled subject–predicate knowledge with decaying confidence.
type Fact struct {
	ID               string             `json:"id"`
	Subject          string             `json:"subject"`
	Predicate        string             `json:"predicate"`
	Content          string             `json:"content"`
	Embedding        []float64          `json:"-"`
	Lexical          map[string]float64 `json:"-"`
	Scope            string             `json:"scope"`
	Confidence       float64            `json:"confidence"`
	Permanence       Permanence         `json:"permanence"`
	DecayRate        float64            `json:"decay_rate"`
	Validity         Validity           `json:"validity"`
	RefCount         int                `json:"ref_count"`
	CreatedAt        int64              `json:"created_at"`
	LastReferencedAt int64              `json:"last_referenced_at"`
	LastConfirmedAt  int64              `json:"last_confirmed_at"`
	SupersedesID     string             `json:"supersedes_id,omitempty"`
	SourceEpisodeID  string             `json:"source_episode_id,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
}

// Rule is a learned behavioral pattern with earned trust.
type Rule struct {
	ID               string             `json:"id"`
	Content          string             `json:"content"`
	Embedding        []float64          `json:"-"`
	Lexical          map[string]float64 `json:"-"`
	Scope            string             `json:"scope"`
	Confidence       float64            `json:"confidence"`
	Maturity         Maturity           `json:"maturity"`
	Validity         Validity           `json:"validity"`
	AppliedCount     int                `json:"applied_count"`
	SuccessCount     int                `json:"success_count"`
	HarmfulCount     int                `json:"harmful_count"`
	Effectiveness    float64            `json:"effectiveness"`
	RefCount         int                `json:"ref_count"`
	HarmfulReasons   []string           `json:"harmful_reasons,omitempty"`
	CreatedAt        int64              `json:"created_at"`
	LastAppliedAt    *int64             `json:"last_applied_at,omitempty"`
	LastReferencedAt int64              `json:"last_referenced_at"`
	LastConfirmedAt  int64              `json:"last_confirmed_at"`
	Tags             []string           `json:"tags,omitempty"`
}

// MemoryLink is a directed provenance edge. Identity is the full tuple;
// links are only ever created, never mutated.
type MemoryLink struct {
	SourceType EntityKind `json:"source_type"`
	SourceID   string     `json:"source_id"`
	TargetType EntityKind `json:"target_type"`
	TargetID   string     `json:"target_id"`
	Relation   Relation   `json:"relation"`
	CreatedAt  int64      `json:"created_at"`
}

// NewID returns a fresh ULID string.
func NewID() string {
	return ulid.Make().String()
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	if len(buf) == 0 {
		return nil
	}
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// encodeJSON marshals a value to its TEXT column form. Empty maps and
// slices collapse to the empty string so the column stays empty.
func encodeJSON(v any) string {
	switch t := v.(type) {
	case map[string]float64:
		if len(t) == 0 {
			return ""
		}
	case []string:
		if len(t) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeLexical(s string) map[string]float64 {
	if s == "" {
		return nil
	}
	var m map[string]float64
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func decodeTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil
	}
	return tags
}
