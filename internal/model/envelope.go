// Package model defines the core envelope data types.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/resonance/internal/keyword"
)

// Category is a closed set of memory folds.
type Category string

const (
	CategoryPersona      Category = "persona"
	CategoryRelationship Category = "relationship"
	CategoryTechnical    Category = "technical"
	CategoryStylistic    Category = "stylistic"
	CategoryRuntime      Category = "runtime"
)

// ValidCategories are the allowed envelope categories.
var ValidCategories = map[Category]bool{
	CategoryPersona:      true,
	CategoryRelationship: true,
	CategoryTechnical:    true,
	CategoryStylistic:    true,
	CategoryRuntime:      true,
}

// IdentityCategories are the identity-defining categories.
var IdentityCategories = map[Category]bool{
	CategoryPersona:   true,
	CategoryStylistic: true,
}

// Categories returns all categories in stable order.
func Categories() []Category {
	return []Category{
		CategoryPersona,
		CategoryRelationship,
		CategoryTechnical,
		CategoryStylistic,
		CategoryRuntime,
	}
}

// Source tags the provenance of an envelope.
type Source string

const (
	SourceUser       Source = "user"
	SourceTool       Source = "tool"
	SourceAutomation Source = "automation"
	SourceSystem     Source = "system"
)

// ValidSources are the allowed provenance tags.
var ValidSources = map[Source]bool{
	SourceUser:       true,
	SourceTool:       true,
	SourceAutomation: true,
	SourceSystem:     true,
}

// Visibility is an ordered access tier.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityWorkspace Visibility = "workspace"
	VisibilityPrivate   Visibility = "private"
)

var visibilityTiers = map[Visibility]int{
	VisibilityPublic:    0,
	VisibilityWorkspace: 1,
	VisibilityPrivate:   2,
}

// Tier returns the numeric tier for a visibility. Unknown visibilities
// sort above private so they never pass a filter.
func (v Visibility) Tier() int {
	tier, ok := visibilityTiers[v]
	if !ok {
		return len(visibilityTiers)
	}
	return tier
}

// Valid reports whether the visibility is a known tier.
func (v Visibility) Valid() bool {
	_, ok := visibilityTiers[v]
	return ok
}

// Embedding is a derived vector plus the identifying config that
// produced it. Vectors are never reused across incompatible configs.
type Embedding struct {
	Vector        []float32 `json:"vector"`
	Backend       string    `json:"backend"`
	Model         string    `json:"model"`
	Dims          int       `json:"dims"`
	Normalization string    `json:"normalization,omitempty"`
}

// Fingerprint identifies the producing config. Two embeddings are
// comparable only when their fingerprints match.
func (e *Embedding) Fingerprint() string {
	return fmt.Sprintf("%s/%s/%d/%s", e.Backend, e.Model, e.Dims, e.Normalization)
}

// Envelope wraps memory content with identity, integrity, and
// lifecycle metadata.
type Envelope struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	CreatedAt  time.Time  `json:"created_at"`
	Source     Source     `json:"source"`
	Content    string     `json:"content"`
	TTL        int64      `json:"ttl,omitempty"` // seconds after CreatedAt; 0 = never expires
	Visibility Visibility `json:"visibility"`
	Tags       []string   `json:"tags,omitempty"`
	Checksum   string     `json:"checksum"`
	Embedding  *Embedding `json:"embedding,omitempty"`
	Harmonics  []string   `json:"harmonics,omitempty"` // ids of resonant neighbors
	Resonance  float64    `json:"resonance,omitempty"` // score recorded at merge time
	Origin     string     `json:"origin,omitempty"`    // merge session that admitted this envelope
}

// maxAutoTags bounds tags derived from content.
const maxAutoTags = 5

// Options configures envelope creation.
type Options struct {
	Source     Source
	TTL        int64
	Visibility Visibility
	Tags       []string
	Harmonics  []string
	Now        time.Time // zero means time.Now().UTC()
}

// New creates an envelope: generates a time-sortable id, computes the
// content checksum, and fills defaults (workspace visibility, tags
// extracted from content).
func New(category Category, content string, opts Options) (*Envelope, error) {
	if !ValidCategories[category] {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("negative ttl %d", opts.TTL)
	}

	src := opts.Source
	if src == "" {
		src = SourceUser
	}
	if !ValidSources[src] {
		return nil, fmt.Errorf("unknown source %q", src)
	}

	vis := opts.Visibility
	if vis == "" {
		vis = VisibilityWorkspace
	}
	if !vis.Valid() {
		return nil, fmt.Errorf("unknown visibility %q", vis)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tags := opts.Tags
	if len(tags) == 0 {
		tags = keyword.Extract(content, keyword.Options{
			MaxKeywords: maxAutoTags,
			MinLength:   keyword.DefaultMinLength,
		})
	}

	return &Envelope{
		ID:         NewID(now),
		Category:   category,
		CreatedAt:  now,
		Source:     src,
		Content:    content,
		TTL:        opts.TTL,
		Visibility: vis,
		Tags:       tags,
		Checksum:   ChecksumOf(content),
		Harmonics:  opts.Harmonics,
	}, nil
}

// ChecksumOf returns the hex SHA-256 of the content bytes.
func ChecksumOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Validate recomputes the checksum and compares. Corruption is a
// boolean fact, not an error path.
func (e *Envelope) Validate() bool {
	return e.Checksum == ChecksumOf(e.Content)
}

// RefreshChecksum recomputes the checksum from content. Content itself
// is immutable; this is for metadata repair only.
func (e *Envelope) RefreshChecksum() {
	e.Checksum = ChecksumOf(e.Content)
}

// IsExpired reports whether the envelope's ttl has elapsed at now.
func (e *Envelope) IsExpired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > time.Duration(e.TTL)*time.Second
}

// Copy returns a deep copy sharing no mutable state with the
// original.
func (e *Envelope) Copy() *Envelope {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Harmonics = append([]string(nil), e.Harmonics...)
	if e.Embedding != nil {
		emb := *e.Embedding
		emb.Vector = append([]float32(nil), e.Embedding.Vector...)
		c.Embedding = &emb
	}
	return &c
}

// CloneOverrides selects fields to replace when cloning. Zero values
// keep the original's field; Harmonics replaces when non-nil.
type CloneOverrides struct {
	Category   Category
	Content    string
	Source     Source
	Visibility Visibility
	TTL        *int64
	Tags       []string
	Harmonics  []string
	Resonance  float64
	Origin     string
	Now        time.Time
}

// CloneAsNew produces a derivative envelope with a fresh id and
// timestamp. The embedding is dropped when the content changes: a stale
// vector must never travel with new content.
func (e *Envelope) CloneAsNew(o CloneOverrides) *Envelope {
	now := o.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	clone := &Envelope{
		Category:   e.Category,
		Source:     e.Source,
		Content:    e.Content,
		TTL:        e.TTL,
		Visibility: e.Visibility,
		Tags:       append([]string(nil), e.Tags...),
		Harmonics:  append([]string(nil), e.Harmonics...),
		Resonance:  o.Resonance,
		Origin:     o.Origin,
	}
	if e.Embedding != nil {
		emb := *e.Embedding
		emb.Vector = append([]float32(nil), e.Embedding.Vector...)
		clone.Embedding = &emb
	}

	if o.Category != "" {
		clone.Category = o.Category
	}
	if o.Content != "" && o.Content != e.Content {
		clone.Content = o.Content
		clone.Embedding = nil
	}
	if o.Source != "" {
		clone.Source = o.Source
	}
	if o.Visibility != "" {
		clone.Visibility = o.Visibility
	}
	if o.TTL != nil {
		clone.TTL = *o.TTL
	}
	if o.Tags != nil {
		clone.Tags = append([]string(nil), o.Tags...)
	}
	if o.Harmonics != nil {
		clone.Harmonics = append([]string(nil), o.Harmonics...)
	}

	clone.ID = NewID(now)
	clone.CreatedAt = now
	clone.Checksum = ChecksumOf(clone.Content)
	return clone
}

// FilterByVisibility keeps envelopes whose tier is at or below max.
func FilterByVisibility(envs []*Envelope, max Visibility) []*Envelope {
	maxTier := max.Tier()
	out := make([]*Envelope, 0, len(envs))
	for _, e := range envs {
		if e.Visibility.Tier() <= maxTier {
			out = append(out, e)
		}
	}
	return out
}

var (
	entropyMu sync.Mutex
	entropy   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewID returns a ULID anchored at now.
func NewID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
