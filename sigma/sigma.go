// Package sigma evaluates Sigma rules against stored record events.
package sigma

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// EventType is the detector_state key of the record event poller.
const EventType = "record"

const (
	enabledRulesDir  = "enabled_rules"
	disabledRulesDir = "disabled_rules"
	fetchLimit       = 1000
)

// Detector manages Sigma rules and detection
type Detector struct {
	RulesDir string
	db       *sql.DB

	mu         sync.RWMutex
	evaluators map[string]*evaluator.RuleEvaluator

	running    bool
	reloadChan chan bool         // Signals a rule reload
	watcher    *fsnotify.Watcher // Watches enabled_rules
}

// Match is a stored event that matched a Sigma rule
type Match struct {
	ID           int64     `json:"id"`
	EventID      int64     `json:"event_id"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	CPU          int64     `json:"cpu"`
	Event        string    `json:"event"`
	Data         int64     `json:"data"`
	ThreadName   string    `json:"thread_name"`
	Timestamp    time.Time `json:"timestamp"`
	Severity     string    `json:"severity"`
	Status       string    `json:"status"`
	MatchDetails []string  `json:"match_details"`
	EventData    string    `json:"event_data"`
	CreatedAt    time.Time `json:"created_at"`
}

// MatchResult represents the result of a rule evaluation
type MatchResult struct {
	Match        bool
	Rule         sigma.Rule
	MatchDetails []string
}

// Rules name the fields of a record event as they appear in the events
// table.
func recordConfig() sigma.Config {
	return sigma.Config{
		Title: "Event Recorder Config",
		FieldMappings: map[string]sigma.FieldMapping{
			"Event":      {TargetNames: []string{"Event"}},
			"Kind":       {TargetNames: []string{"Kind"}},
			"CPU":        {TargetNames: []string{"CPU"}},
			"Data":       {TargetNames: []string{"Data"}},
			"ThreadName": {TargetNames: []string{"ThreadName"}},
			"Image":      {TargetNames: []string{"ThreadName"}},
		},
	}
}

// NewDetector creates the rule directories, loads the enabled rules and
// starts watching them.
func NewDetector(rulesDir string, db *sql.DB) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create file watcher")
	}

	detector := &Detector{
		RulesDir:   rulesDir,
		db:         db,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
		reloadChan: make(chan bool, 1),
		watcher:    watcher,
	}

	for _, dir := range []string{detector.enabledDir(), detector.disabledDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}

	if err := detector.setupWatcher(); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "failed to set up file watcher")
	}

	if err := detector.LoadRules(); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "failed to load rules")
	}

	return detector, nil
}

func (sd *Detector) enabledDir() string {
	return filepath.Join(sd.RulesDir, enabledRulesDir)
}

func (sd *Detector) disabledDir() string {
	return filepath.Join(sd.RulesDir, disabledRulesDir)
}

func (sd *Detector) setupWatcher() error {
	// Changes in disabled_rules do not matter.
	if err := sd.watcher.Add(sd.enabledDir()); err != nil {
		return errors.Wrapf(err, "failed to watch directory %s", sd.enabledDir())
	}
	log.WithField("dir", sd.enabledDir()).Info("Watching rule directory")

	go sd.watchFileChanges()
	return nil
}

func (sd *Detector) watchFileChanges() {
	for {
		select {
		case event, ok := <-sd.watcher.Events:
			if !ok {
				return
			}
			if !isRuleFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.WithFields(log.Fields{
					"file": event.Name,
					"op":   event.Op.String(),
				}).Info("Detected rule change")
				sd.ReloadRules()
			}

		case err, ok := <-sd.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")
		}
	}
}

func isRuleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}

// LoadRules replaces the loaded rules with those in enabled_rules
func (sd *Detector) LoadRules() error {
	files, err := os.ReadDir(sd.enabledDir())
	if err != nil {
		return err
	}

	evaluators := make(map[string]*evaluator.RuleEvaluator)
	for _, file := range files {
		if file.IsDir() || !isRuleFile(file.Name()) {
			continue
		}
		filePath := filepath.Join(sd.enabledDir(), file.Name())
		rule, err := readRule(filePath)
		if err != nil {
			log.WithError(err).WithField("file", filePath).Warn("Failed to load rule file")
			continue
		}
		evaluators[rule.ID] = newEvaluator(rule)
		log.WithFields(log.Fields{"rule": rule.Title, "id": rule.ID}).Debug("Loaded rule")
	}

	sd.mu.Lock()
	sd.evaluators = evaluators
	sd.mu.Unlock()

	log.WithFields(log.Fields{
		"count": len(evaluators),
		"dir":   sd.enabledDir(),
	}).Info("Loaded Sigma rules")
	return nil
}

// LoadRuleFile loads a single rule file in addition to the loaded rules
func (sd *Detector) LoadRuleFile(filePath string) error {
	rule, err := readRule(filePath)
	if err != nil {
		return err
	}
	sd.mu.Lock()
	sd.evaluators[rule.ID] = newEvaluator(rule)
	sd.mu.Unlock()
	log.WithFields(log.Fields{"rule": rule.Title, "id": rule.ID}).Info("Loaded rule")
	return nil
}

func readRule(filePath string) (sigma.Rule, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return sigma.Rule{}, err
	}
	return parseRule(content)
}

func parseRule(content []byte) (sigma.Rule, error) {
	if sigma.InferFileType(content) != sigma.RuleFile {
		return sigma.Rule{}, errors.New("not a Sigma rule")
	}
	rule, err := sigma.ParseRule(content)
	if err != nil {
		return sigma.Rule{}, errors.Wrap(err, "failed to parse rule")
	}
	return rule, nil
}

func newEvaluator(rule sigma.Rule) *evaluator.RuleEvaluator {
	return evaluator.ForRule(rule,
		evaluator.WithConfig(recordConfig()),
		evaluator.WithPlaceholderExpander(func(ctx context.Context, placeholderName string) ([]string, error) {
			return nil, nil
		}),
		evaluator.CountImplementation(func(ctx context.Context, key evaluator.GroupedByValues) (float64, error) {
			return 0, nil
		}),
		evaluator.SumImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}),
		evaluator.AverageImplementation(func(ctx context.Context, key evaluator.GroupedByValues, value float64) (float64, error) {
			return 0, nil
		}),
	)
}

// RuleCount returns the number of loaded rules
func (sd *Detector) RuleCount() int {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return len(sd.evaluators)
}

// ReloadRules requests a reload from the polling loop
func (sd *Detector) ReloadRules() {
	select {
	case sd.reloadChan <- true:
	default:
		// A reload is already pending.
	}
}

// GetLastProcessedID gets the last processed event ID for an event type
func (sd *Detector) GetLastProcessedID(eventType string) (int64, error) {
	query := `SELECT last_id FROM detector_state WHERE event_type = ? LIMIT 1`

	var lastID int64
	err := sd.db.QueryRow(query, eventType).Scan(&lastID)
	if err == sql.ErrNoRows {
		initQuery := `
		INSERT INTO detector_state
			(event_type, last_id, last_processed_time, updated_at)
		VALUES
			(?, 0, datetime('now'), datetime('now'))`

		if _, err := sd.db.Exec(initQuery, eventType); err != nil {
			return 0, errors.Wrapf(err, "failed to initialize state for event type %s", eventType)
		}
		return 0, nil
	}
	return lastID, err
}

// UpdateDetectorState records the progress of an event type poller
func (sd *Detector) UpdateDetectorState(eventType string, lastID int64, matchCount int) error {
	query := `
	UPDATE detector_state SET
		last_id = ?,
		last_processed_time = datetime('now'),
		rule_count = ?,
		match_count = match_count + ?,
		updated_at = datetime('now')
	WHERE event_type = ?`

	_, err := sd.db.Exec(query, lastID, sd.RuleCount(), matchCount, eventType)
	return err
}

// CheckEvent returns the rules matching event
func (sd *Detector) CheckEvent(ctx context.Context, event map[string]interface{}) []MatchResult {
	sd.mu.RLock()
	defer sd.mu.RUnlock()

	var results []MatchResult
	for _, ruleEvaluator := range sd.evaluators {
		result, err := ruleEvaluator.Matches(ctx, event)
		if err != nil {
			log.WithError(err).WithField("rule", ruleEvaluator.Rule.ID).Warn("Error evaluating event")
			continue
		}
		if !result.Match {
			continue
		}

		var matchConditions []string
		for k, v := range result.SearchResults {
			if v {
				matchConditions = append(matchConditions, k)
			}
		}
		results = append(results, MatchResult{
			Match: true,
			Rule:  ruleEvaluator.Rule,
			MatchDetails: []string{
				fmt.Sprintf("Matched conditions: %s", strings.Join(matchConditions, ", ")),
			},
		})
		log.WithFields(log.Fields{
			"rule":       ruleEvaluator.Rule.ID,
			"conditions": strings.Join(matchConditions, ", "),
		}).Debug("Event matched rule")
	}
	return results
}

// StoreMatch stores a rule match in the database
func (sd *Detector) StoreMatch(match MatchResult, event map[string]interface{}) error {
	eventDataJSON, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event data")
	}

	eventID, ok := event["id"].(int64)
	if !ok {
		return errors.New("event has no valid ID")
	}
	name, _ := event["Event"].(string)
	thread, _ := event["ThreadName"].(string)
	cpu, _ := strconv.ParseInt(fmt.Sprint(event["CPU"]), 10, 64)
	data, _ := event["raw_data"].(int64)

	matchDetailsJSON, _ := json.Marshal(match.MatchDetails)

	severity := match.Rule.Level
	if severity == "" {
		severity = "medium"
	}

	query := `
	INSERT INTO sigma_matches (
		event_id,
		rule_id,
		rule_name,
		cpu,
		event,
		data,
		thread_name,
		timestamp,
		severity,
		status,
		match_details,
		event_data,
		created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'), ?, 'new', ?, ?, datetime('now'))`

	_, err = sd.db.Exec(query,
		eventID,
		match.Rule.ID,
		match.Rule.Title,
		cpu,
		name,
		data,
		thread,
		severity,
		string(matchDetailsJSON),
		string(eventDataJSON),
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert match")
	}

	log.WithFields(log.Fields{"rule": match.Rule.ID, "title": match.Rule.Title}).Info("Stored Sigma match")
	return nil
}

// Poll evaluates the events stored since the last call. It returns the
// number of events checked and of matches stored.
func (sd *Detector) Poll(ctx context.Context) (int, int, error) {
	lastID, err := sd.GetLastProcessedID(EventType)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to retrieve last processed ID")
	}
	events, err := sd.FetchNewEvents(lastID)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to fetch events")
	}
	if len(events) == 0 {
		return 0, 0, nil
	}

	newLastID := lastID
	matchCount := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return 0, matchCount, ctx.Err()
		}
		if id := event["id"].(int64); id > newLastID {
			newLastID = id
		}
		for _, match := range sd.CheckEvent(ctx, event) {
			if err := sd.StoreMatch(match, event); err != nil {
				log.WithError(err).Warn("Error storing match")
			}
			matchCount++
		}
	}

	if err := sd.UpdateDetectorState(EventType, newLastID, matchCount); err != nil {
		return len(events), matchCount, errors.Wrap(err, "failed to update detector state")
	}
	return len(events), matchCount, nil
}

// StartPolling evaluates new events every interval and reloads rules on
// request until ctx is done.
func (sd *Detector) StartPolling(ctx context.Context, interval time.Duration) error {
	sd.mu.Lock()
	if sd.running {
		sd.mu.Unlock()
		return errors.New("detector is already running")
	}
	sd.running = true
	sd.mu.Unlock()

	defer func() {
		sd.mu.Lock()
		sd.running = false
		sd.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.WithField("interval", interval).Info("Started polling for record events")

	for {
		select {
		case <-ctx.Done():
			log.Info("Sigma detection stopped")
			return nil
		case <-sd.reloadChan:
			log.Info("Reloading Sigma rules")
			if err := sd.LoadRules(); err != nil {
				log.WithError(err).Error("Error reloading rules")
			}
		case <-ticker.C:
			checked, matched, err := sd.Poll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.WithError(err).Warn("Sigma poll failed")
				continue
			}
			if checked > 0 {
				log.WithFields(log.Fields{
					"events":  checked,
					"matches": matched,
				}).Debug("Processed record events")
			}
		}
	}
}

// StopPolling closes the rule watcher
func (sd *Detector) StopPolling() {
	if sd.watcher != nil {
		sd.watcher.Close()
	}
	log.Info("Sigma detection polling stopped")
}

// FetchNewEvents returns up to 1000 events stored after lastID, as field
// maps for rule evaluation.
func (sd *Detector) FetchNewEvents(lastID int64) ([]map[string]interface{}, error) {
	query := `
	SELECT id, cpu, kind, event, data, thread_name
	FROM events
	WHERE id > ?
	ORDER BY id ASC
	LIMIT ?`

	rows, err := sd.db.Query(query, lastID, fetchLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []map[string]interface{}
	for rows.Next() {
		var (
			id     int64
			cpu    int64
			kind   int64
			name   string
			data   int64
			thread sql.NullString
		)
		if err := rows.Scan(&id, &cpu, &kind, &name, &data, &thread); err != nil {
			return nil, err
		}

		// Rule values are strings, so numeric fields are rendered as such.
		event := map[string]interface{}{
			"id":       id,
			"raw_data": data,
			"CPU":      strconv.FormatInt(cpu, 10),
			"Kind":     strconv.FormatInt(kind, 10),
			"Event":    name,
			"Data":     strconv.FormatUint(uint64(data), 10),
		}
		if thread.Valid {
			event["ThreadName"] = thread.String
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetMatches retrieves sigma matches from the database with filters
func (sd *Detector) GetMatches(limit int, offset int, filters map[string]string) ([]Match, error) {
	query := `
    SELECT
        id, event_id, rule_id, rule_name,
        cpu, event, data, thread_name,
        timestamp, severity, status, match_details, event_data, created_at
    FROM sigma_matches`

	whereClause := []string{}
	args := []interface{}{}

	if status, ok := filters["status"]; ok && status != "" && status != "all" {
		whereClause = append(whereClause, "status = ?")
		args = append(args, status)
	}
	if severity, ok := filters["severity"]; ok && severity != "" && severity != "all" {
		whereClause = append(whereClause, "severity = ?")
		args = append(args, severity)
	}
	if ruleID, ok := filters["rule"]; ok && ruleID != "" && ruleID != "all" {
		whereClause = append(whereClause, "rule_id = ?")
		args = append(args, ruleID)
	}

	if len(whereClause) > 0 {
		query += " WHERE " + strings.Join(whereClause, " AND ")
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sd.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var match Match
		var thread sql.NullString
		var matchDetailsJSON, eventDataJSON string

		err := rows.Scan(
			&match.ID, &match.EventID, &match.RuleID, &match.RuleName,
			&match.CPU, &match.Event, &match.Data, &thread,
			&match.Timestamp, &match.Severity, &match.Status, &matchDetailsJSON, &eventDataJSON, &match.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		match.ThreadName = thread.String
		json.Unmarshal([]byte(matchDetailsJSON), &match.MatchDetails)
		match.EventData = eventDataJSON
		matches = append(matches, match)
	}
	return matches, rows.Err()
}

// GetMatchStats retrieves statistics about sigma matches
func (sd *Detector) GetMatchStats() (map[string]interface{}, error) {
	var totalRules int
	err := sd.db.QueryRow("SELECT COUNT(*) FROM (SELECT DISTINCT rule_id FROM sigma_matches)").Scan(&totalRules)
	if err != nil {
		return nil, err
	}

	sevCounts, err := sd.countBy("severity")
	if err != nil {
		return nil, err
	}
	statusCounts, err := sd.countBy("status")
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"totalRules":     totalRules,
		"activeRules":    sd.RuleCount(),
		"severityCounts": sevCounts,
		"statusCounts":   statusCounts,
	}, nil
}

func (sd *Detector) countBy(column string) (map[string]int, error) {
	rows, err := sd.db.Query("SELECT " + column + ", COUNT(*) FROM sigma_matches GROUP BY " + column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

// UpdateMatchStatus updates the status of a match
func (sd *Detector) UpdateMatchStatus(matchID int64, newStatus string) error {
	validStatuses := map[string]bool{
		"new":            true,
		"in_progress":    true,
		"resolved":       true,
		"false_positive": true,
	}
	if !validStatuses[newStatus] {
		return errors.Errorf("invalid status: %s", newStatus)
	}

	res, err := sd.db.Exec("UPDATE sigma_matches SET status = ? WHERE id = ?", newStatus, matchID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("no match with id %d", matchID)
	}
	return nil
}
