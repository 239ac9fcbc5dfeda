package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/model"
	"github.com/Veraticus/spice-rules/internal/service"
)

// Ensure MemoryStorage implements PatternStore interface.
var _ service.PatternStore = (*MemoryStorage)(nil)

// maxCASAttempts bounds the compare-and-swap loop of a counter update before
// it reports a write conflict.
const maxCASAttempts = 64

// MemoryStorage is a process-local PatternStore. Rule definitions sit behind
// a read-write lock; counters are lock free, packed as usage<<32 | success in
// one word per rule so both move in a single atomic step.
type MemoryStorage struct {
	categories  map[int64]*model.Category
	rules       map[int64]*model.Rule
	composites  map[int64]*model.CompositeRule
	counters    map[int64]*atomic.Uint64
	feedback    []model.Feedback
	nextID      int64
	nextCatID   int64
	mu          sync.RWMutex
	casAttempts int
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		categories:  make(map[int64]*model.Category),
		rules:       make(map[int64]*model.Rule),
		composites:  make(map[int64]*model.CompositeRule),
		counters:    make(map[int64]*atomic.Uint64),
		casAttempts: maxCASAttempts,
	}
}

func packCounters(usage, success int64) uint64 {
	return uint64(usage)<<32 | uint64(success)&0xffffffff
}

func unpackCounters(word uint64) model.RuleCounters {
	return model.Counters(int64(word>>32), int64(word&0xffffffff))
}

// Migrate is a no-op; there is no schema.
func (m *MemoryStorage) Migrate(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStorage) Close() error {
	return nil
}

// CreateCategory creates a category or reactivates an inactive one of the
// same name.
func (m *MemoryStorage) CreateCategory(_ context.Context, name, description string) (*model.Category, error) {
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cat := range m.categories {
		if cat.Name == name {
			cat.Active = true
			c := *cat
			return &c, nil
		}
	}

	m.nextCatID++
	cat := &model.Category{
		ID:          m.nextCatID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		Active:      true,
	}
	m.categories[cat.ID] = cat
	c := *cat
	return &c, nil
}

// GetCategoryByID returns a category by id.
func (m *MemoryStorage) GetCategoryByID(_ context.Context, id int64) (*model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cat, ok := m.categories[id]
	if !ok {
		return nil, fmt.Errorf("category #%d: %w", id, common.ErrNotFound)
	}
	c := *cat
	return &c, nil
}

// GetCategoryByName returns an active category by name.
func (m *MemoryStorage) GetCategoryByName(_ context.Context, name string) (*model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = strings.TrimSpace(name)
	for _, cat := range m.categories {
		if cat.Name == name && cat.Active {
			c := *cat
			return &c, nil
		}
	}
	return nil, fmt.Errorf("category %s: %w", name, common.ErrNotFound)
}

// GetCategories returns active categories ordered by name.
func (m *MemoryStorage) GetCategories(_ context.Context) ([]model.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var categories []model.Category
	for _, cat := range m.categories {
		if cat.Active {
			categories = append(categories, *cat)
		}
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (m *MemoryStorage) checkCategory(id int64) error {
	cat, ok := m.categories[id]
	if !ok || !cat.Active {
		return fmt.Errorf("category #%d: %w", id, common.ErrNotFound)
	}
	return nil
}

func (m *MemoryStorage) checkUnique(rule *model.Rule) error {
	for _, existing := range m.rules {
		if existing.ID != rule.ID && existing.CategoryID == rule.CategoryID &&
			existing.Type == rule.Type && existing.Value == rule.Value {
			return fmt.Errorf("%s rule %q in category #%d: %w", rule.Type, rule.Value, rule.CategoryID, common.ErrDuplicateEntry)
		}
	}
	return nil
}

// CreateRule stores a new atomic rule.
func (m *MemoryStorage) CreateRule(_ context.Context, rule *model.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCategory(rule.CategoryID); err != nil {
		return err
	}
	rule.ID = 0
	if err := m.checkUnique(rule); err != nil {
		return err
	}

	now := time.Now().UTC()
	m.nextID++
	rule.ID = m.nextID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.UsageCount = 0
	rule.SuccessCount = 0
	if rule.Origin == "" {
		rule.Origin = model.OriginUser
	}

	m.rules[rule.ID] = copyRule(rule)
	m.counters[rule.ID] = new(atomic.Uint64)
	return nil
}

// GetRule returns an atomic rule by id.
func (m *MemoryStorage) GetRule(_ context.Context, id int64) (*model.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}
	return m.snapshotRule(rule), nil
}

// UpdateRule rewrites an atomic rule definition, keeping its counters.
func (m *MemoryStorage) UpdateRule(_ context.Context, rule *model.Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[rule.ID]
	if !ok {
		return fmt.Errorf("rule %d: %w", rule.ID, common.ErrNotFound)
	}
	if err := m.checkCategory(rule.CategoryID); err != nil {
		return err
	}
	if err := m.checkUnique(rule); err != nil {
		return err
	}

	updated := copyRule(rule)
	updated.CreatedAt = existing.CreatedAt
	updated.Origin = existing.Origin
	updated.UpdatedAt = time.Now().UTC()
	m.rules[rule.ID] = updated
	rule.UpdatedAt = updated.UpdatedAt
	return nil
}

// SetRuleActive toggles an atomic rule.
func (m *MemoryStorage) SetRuleActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[id]
	if !ok {
		return fmt.Errorf("atomic rule %d: %w", id, common.ErrNotFound)
	}
	rule.Active = active
	rule.UpdatedAt = time.Now().UTC()
	return nil
}

// SetCompositeActive toggles a composite rule.
func (m *MemoryStorage) SetCompositeActive(_ context.Context, id int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	composite, ok := m.composites[id]
	if !ok {
		return fmt.Errorf("composite rule %d: %w", id, common.ErrNotFound)
	}
	composite.Active = active
	composite.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteRule removes an atomic or composite rule unless a composite still
// references it.
func (m *MemoryStorage) DeleteRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, isRule := m.rules[id]
	_, isComposite := m.composites[id]
	if !isRule && !isComposite {
		return fmt.Errorf("rule %d: %w", id, common.ErrNotFound)
	}

	parents := 0
	for _, composite := range m.composites {
		if composite.References(id) {
			parents++
		}
	}
	if parents > 0 {
		return fmt.Errorf("rule %d is used by %d composite rule(s): %w", id, parents, common.ErrRuleReferenced)
	}

	delete(m.rules, id)
	delete(m.composites, id)
	delete(m.counters, id)
	for i := range m.feedback {
		if m.feedback[i].RuleID != nil && *m.feedback[i].RuleID == id {
			m.feedback[i].RuleID = nil
		}
	}
	return nil
}

// RulesByCategory returns all atomic rules of a category and type.
func (m *MemoryStorage) RulesByCategory(_ context.Context, categoryID int64, ruleType model.RuleType) ([]model.Rule, error) {
	return m.listRules(func(r *model.Rule) bool {
		return r.CategoryID == categoryID && r.Type == ruleType
	}), nil
}

// ActiveRules returns active atomic rules ordered by id.
func (m *MemoryStorage) ActiveRules(_ context.Context) ([]model.Rule, error) {
	return m.listRules(func(r *model.Rule) bool { return r.Active }), nil
}

// AllRules returns every atomic rule ordered by id.
func (m *MemoryStorage) AllRules(_ context.Context) ([]model.Rule, error) {
	return m.listRules(func(*model.Rule) bool { return true }), nil
}

func (m *MemoryStorage) listRules(keep func(*model.Rule) bool) []model.Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rules []model.Rule
	for _, rule := range m.rules {
		if keep(rule) {
			rules = append(rules, *m.snapshotRule(rule))
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// CreateComposite stores a composite rule. Every component must exist.
func (m *MemoryStorage) CreateComposite(_ context.Context, composite *model.CompositeRule) error {
	if err := validateComposite(composite); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkCategory(composite.CategoryID); err != nil {
		return err
	}
	for _, id := range composite.Components {
		_, isRule := m.rules[id]
		_, isComposite := m.composites[id]
		if !isRule && !isComposite {
			return fmt.Errorf("component %d: %w", id, common.ErrNotFound)
		}
	}

	now := time.Now().UTC()
	m.nextID++
	composite.ID = m.nextID
	composite.CreatedAt = now
	composite.UpdatedAt = now
	composite.UsageCount = 0
	composite.SuccessCount = 0
	if composite.Origin == "" {
		composite.Origin = model.OriginUser
	}

	m.composites[composite.ID] = copyComposite(composite)
	m.counters[composite.ID] = new(atomic.Uint64)
	return nil
}

// GetComposite returns a composite rule by id.
func (m *MemoryStorage) GetComposite(_ context.Context, id int64) (*model.CompositeRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	composite, ok := m.composites[id]
	if !ok {
		return nil, fmt.Errorf("composite rule %d: %w", id, common.ErrNotFound)
	}
	return m.snapshotComposite(composite), nil
}

// ActiveComposites returns active composites ordered by id.
func (m *MemoryStorage) ActiveComposites(_ context.Context) ([]model.CompositeRule, error) {
	return m.listComposites(true), nil
}

// AllComposites returns every composite ordered by id.
func (m *MemoryStorage) AllComposites(_ context.Context) ([]model.CompositeRule, error) {
	return m.listComposites(false), nil
}

func (m *MemoryStorage) listComposites(activeOnly bool) []model.CompositeRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var composites []model.CompositeRule
	for _, composite := range m.composites {
		if activeOnly && !composite.Active {
			continue
		}
		composites = append(composites, *m.snapshotComposite(composite))
	}
	sort.Slice(composites, func(i, j int) bool { return composites[i].ID < composites[j].ID })
	return composites
}

// IncrementCounters bumps usage, and success when asked, with a bounded
// compare-and-swap loop.
func (m *MemoryStorage) IncrementCounters(_ context.Context, ruleID int64, success bool) (model.RuleCounters, error) {
	m.mu.RLock()
	word, ok := m.counters[ruleID]
	m.mu.RUnlock()
	if !ok {
		return model.RuleCounters{}, fmt.Errorf("rule %d: %w", ruleID, common.ErrNotFound)
	}

	for attempt := 0; attempt < m.casAttempts; attempt++ {
		old := word.Load()
		current := unpackCounters(old)
		next := model.Counters(current.UsageCount+1, current.SuccessCount)
		if success {
			next.SuccessCount++
		}
		if word.CompareAndSwap(old, packCounters(next.UsageCount, next.SuccessCount)) {
			return next, nil
		}
	}

	return model.RuleCounters{}, fmt.Errorf("rule %d after %d attempts: %w", ruleID, m.casAttempts, common.ErrCounterWriteConflict)
}

// GetCounters returns a rule's counters.
func (m *MemoryStorage) GetCounters(_ context.Context, ruleID int64) (model.RuleCounters, error) {
	m.mu.RLock()
	word, ok := m.counters[ruleID]
	m.mu.RUnlock()
	if !ok {
		return model.RuleCounters{}, fmt.Errorf("rule %d: %w", ruleID, common.ErrNotFound)
	}
	return unpackCounters(word.Load()), nil
}

// SaveFeedback appends a feedback record.
func (m *MemoryStorage) SaveFeedback(_ context.Context, feedback *model.Feedback) error {
	if err := validateFeedback(feedback); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.feedback {
		if existing.ID == feedback.ID {
			return fmt.Errorf("feedback %s: %w", feedback.ID, common.ErrDuplicateEntry)
		}
	}
	if feedback.RuleID != nil {
		if _, ok := m.counters[*feedback.RuleID]; !ok {
			return fmt.Errorf("feedback %s references rule %d: %w", feedback.ID, *feedback.RuleID, common.ErrNotFound)
		}
	}

	fb := *feedback
	if feedback.RuleID != nil {
		id := *feedback.RuleID
		fb.RuleID = &id
	}
	fb.CreatedAt = fb.CreatedAt.UTC()
	m.feedback = append(m.feedback, fb)
	return nil
}

// CountFeedback counts feedback for ruleID in [from, to).
func (m *MemoryStorage) CountFeedback(_ context.Context, ruleID int64, from, to time.Time) (int, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("%w: end %v is before start %v", ErrInvalidDateRange, to, from)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, fb := range m.feedback {
		if fb.RuleID == nil || *fb.RuleID != ruleID {
			continue
		}
		if !fb.CreatedAt.Before(from) && fb.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

// snapshotRule copies a rule and folds in its live counters. Callers hold
// at least the read lock.
func (m *MemoryStorage) snapshotRule(rule *model.Rule) *model.Rule {
	out := copyRule(rule)
	if word, ok := m.counters[rule.ID]; ok {
		c := unpackCounters(word.Load())
		out.UsageCount, out.SuccessCount = c.UsageCount, c.SuccessCount
	}
	return out
}

func (m *MemoryStorage) snapshotComposite(composite *model.CompositeRule) *model.CompositeRule {
	out := copyComposite(composite)
	if word, ok := m.counters[composite.ID]; ok {
		c := unpackCounters(word.Load())
		out.UsageCount, out.SuccessCount = c.UsageCount, c.SuccessCount
	}
	return out
}

func copyRule(rule *model.Rule) *model.Rule {
	out := *rule
	out.Metadata = make(map[string]string, len(rule.Metadata))
	for k, v := range rule.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func copyComposite(composite *model.CompositeRule) *model.CompositeRule {
	out := *composite
	out.Components = append([]int64(nil), composite.Components...)
	return &out
}
