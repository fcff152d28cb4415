package classify

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/taskbridgeco/taskbridge/internal/config"
)

// Verdict is the classifier's call on a piece of text.
type Verdict string

const (
	VerdictActivity    Verdict = "activity"
	VerdictNonActivity Verdict = "non_activity"
)

// ContributingTerm records one matched token and its signed contribution.
type ContributingTerm struct {
	Token  string
	Weight float64
}

// Result is immutable once returned.
type Result struct {
	Verdict    Verdict
	Confidence float64
	Terms      []ContributingTerm
	// FromLearned marks a verdict short-circuited by a learned pattern.
	FromLearned bool
}

// Classifier scores free text against the pattern store. Classify has no
// side effects beyond the periodic async flush; two calls against the same
// store snapshot return the same result.
type Classifier struct {
	store  *Store
	cfg    config.ClassifierConfig
	logger *zap.Logger

	classified atomic.Int64
}

func NewClassifier(store *Store, cfg config.ClassifierConfig, logger *zap.Logger) *Classifier {
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = config.DefaultPersistEvery
	}
	return &Classifier{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("classifier"),
	}
}

// Classify scores text and returns a verdict with normalized confidence.
// An activity verdict needs a net score above epsilon and confidence at or
// above the decision threshold; everything else resolves to non-activity so
// noise never creates a task. Empty or punctuation-only input is
// non-activity at minimum confidence.
func (c *Classifier) Classify(text string) Result {
	defer c.maybeFlush()

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Result{Verdict: VerdictNonActivity, Confidence: ConfidenceFloor}
	}

	if p, ok := c.store.Learned(Fingerprint(text)); ok && p.TimesSeen >= 3 {
		return Result{Verdict: p.Verdict, Confidence: p.Confidence, FromLearned: true}
	}

	var activityScore, nonActivityScore float64
	var terms []ContributingTerm
	for _, token := range tokens {
		if w, ok := c.store.TermWeightFor(token, CategoryActivity); ok {
			activityScore += w
			terms = append(terms, ContributingTerm{Token: token, Weight: w})
		}
		if w, ok := c.store.TermWeightFor(token, CategoryNonActivity); ok {
			nonActivityScore += w
			terms = append(terms, ContributingTerm{Token: token, Weight: -w})
		}
	}

	net := activityScore - nonActivityScore
	total := activityScore + nonActivityScore
	if total < 1 {
		total = 1
	}
	confidence := clampConfidence(abs(net) / total)

	verdict := VerdictNonActivity
	if net > c.cfg.Epsilon && confidence >= c.cfg.Threshold {
		verdict = VerdictActivity
	}

	return Result{Verdict: verdict, Confidence: confidence, Terms: terms}
}

// Learn records a confirmed or corrected verdict for the text. Only
// observations above the configured confidence bar are taken, and each one
// can move the stored confidence by at most MaxAdjustment.
func (c *Classifier) Learn(text string, verdict Verdict, confidence float64) {
	if confidence < c.cfg.LearnMinConfidence {
		return
	}
	fp := Fingerprint(text)
	if fp == "" {
		return
	}
	c.store.Reinforce(fp, verdict, confidence, c.cfg.MaxAdjustment)
}

// maybeFlush persists learned patterns every PersistEvery classifications.
// Failure to persist is logged and never interrupts classification.
func (c *Classifier) maybeFlush() {
	n := c.classified.Add(1)
	if n%int64(c.cfg.PersistEvery) != 0 {
		return
	}
	go func() {
		if err := c.store.Flush(); err != nil {
			c.logger.Warn("pattern flush failed", zap.Error(err))
		}
	}()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
