package services

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/maogitmao/billions-dollars/models"
)

// AlertCooldown is how long a rule stays quiet after firing so a price
// hovering around its threshold does not spam the bus every cycle.
const AlertCooldown = 5 * time.Minute

// AlertService evaluates alert rules against accepted quote updates and
// publishes an alert event when a rule fires. Rules live in memory and
// are persisted to Postgres when a database is configured.
type AlertService struct {
	db  *gorm.DB
	bus *EventBus

	mu        sync.Mutex
	rules     map[uint]*models.AlertRule
	lastFired map[uint]time.Time
	nextID    uint
}

// NewAlertService creates the service and loads persisted rules.
func NewAlertService(db *gorm.DB, bus *EventBus) *AlertService {
	s := &AlertService{
		db:        db,
		bus:       bus,
		rules:     make(map[uint]*models.AlertRule),
		lastFired: make(map[uint]time.Time),
		nextID:    1,
	}

	if db != nil {
		var stored []models.AlertRule
		if err := db.Find(&stored).Error; err != nil {
			log.Printf("[Alerts] load rules failed: %v", err)
		} else {
			for i := range stored {
				rule := stored[i]
				s.rules[rule.ID] = &rule
				if rule.ID >= s.nextID {
					s.nextID = rule.ID + 1
				}
			}
			log.Printf("[Alerts] loaded %d rules from database", len(stored))
		}
	}
	return s
}

// Rules returns all rules sorted by ID.
func (s *AlertService) Rules() []models.AlertRule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddRule validates and stores a new rule.
func (s *AlertService) AddRule(rule models.AlertRule) (*models.AlertRule, error) {
	if rule.Symbol == "" {
		return nil, fmt.Errorf("alert rule needs a symbol")
	}
	if !rule.Kind.Valid() {
		return nil, fmt.Errorf("unknown alert kind %q", rule.Kind)
	}
	if !rule.Threshold.IsPositive() {
		return nil, fmt.Errorf("alert threshold must be positive")
	}
	rule.Enabled = true

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Create(&rule).Error; err != nil {
			return nil, fmt.Errorf("persist alert rule: %w", err)
		}
	} else {
		rule.ID = s.nextID
		rule.CreatedAt = time.Now()
		rule.UpdatedAt = rule.CreatedAt
	}
	if rule.ID >= s.nextID {
		s.nextID = rule.ID + 1
	}
	s.rules[rule.ID] = &rule

	log.Printf("[Alerts] rule %d added: %s %s %s", rule.ID, rule.Symbol, rule.Kind, rule.Threshold)
	return &rule, nil
}

// DeleteRule removes a rule. Returns false when the ID is unknown.
func (s *AlertService) DeleteRule(id uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)
	delete(s.lastFired, id)

	if s.db != nil {
		if err := s.db.Delete(&models.AlertRule{}, id).Error; err != nil {
			log.Printf("[Alerts] delete rule %d from database failed: %v", id, err)
		}
	}
	log.Printf("[Alerts] rule %d deleted", id)
	return true
}

// QuoteSubscriber returns a bus handler that evaluates rules on every
// accepted quote update.
func (s *AlertService) QuoteSubscriber() EventHandler {
	return func(kind models.EventKind, payload interface{}) {
		q, ok := payload.(*models.Quote)
		if !ok {
			return
		}
		for _, ev := range s.evaluate(q) {
			log.Printf("[Alerts] triggered: %s", ev.Message)
			s.bus.Publish(models.EventAlertTriggered, ev)
		}
	}
}

// evaluate collects every rule that fires for this quote. Events are
// returned rather than published so the bus is never entered while the
// rule lock is held.
func (s *AlertService) evaluate(q *models.Quote) []models.AlertEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var fired []models.AlertEvent
	for _, rule := range s.rules {
		if !rule.Enabled || rule.Symbol != q.Symbol {
			continue
		}
		if last, ok := s.lastFired[rule.ID]; ok && now.Sub(last) < AlertCooldown {
			continue
		}
		msg, hit := ruleHit(rule, q)
		if !hit {
			continue
		}
		s.lastFired[rule.ID] = now
		fired = append(fired, models.AlertEvent{
			RuleID:        rule.ID,
			Symbol:        q.Symbol,
			Kind:          rule.Kind,
			Threshold:     rule.Threshold,
			Price:         q.LastPrice,
			ChangePercent: q.ChangePercent,
			Message:       msg,
			TriggeredAt:   now,
		})
	}
	return fired
}

func ruleHit(rule *models.AlertRule, q *models.Quote) (string, bool) {
	switch rule.Kind {
	case models.AlertPriceAbove:
		if q.LastPrice.GreaterThanOrEqual(rule.Threshold) {
			return fmt.Sprintf("%s price %s reached %s", q.Symbol, q.LastPrice, rule.Threshold), true
		}
	case models.AlertPriceBelow:
		if q.LastPrice.LessThanOrEqual(rule.Threshold) {
			return fmt.Sprintf("%s price %s fell to %s", q.Symbol, q.LastPrice, rule.Threshold), true
		}
	case models.AlertChangePercent:
		if q.ChangePercent.Abs().GreaterThanOrEqual(rule.Threshold) {
			return fmt.Sprintf("%s moved %s%% today (threshold %s%%)", q.Symbol, q.ChangePercent, rule.Threshold), true
		}
	}
	return "", false
}
