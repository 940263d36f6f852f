package sigma

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bradleyjkemp/sigma-go"
	"github.com/bradleyjkemp/sigma-go/evaluator"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/jnesss/ttrace/database"
)

// PacketEventType is the only event stream the detector polls.
const PacketEventType = "packet"

// Detector manages Sigma rules and detection
type Detector struct {
	RulesDir   string
	db         *database.DB
	mu         sync.RWMutex
	evaluators map[string]*evaluator.RuleEvaluator
	running    bool
	reloadChan chan bool         // Channel to signal rule reloading
	watcher    *fsnotify.Watcher // File system watcher
}

// SigmaMatch represents a packet that matched a Sigma rule
type SigmaMatch struct {
	ID           int64     `json:"id"`
	EventID      int64     `json:"event_id"`
	EventType    string    `json:"event_type"`
	RuleID       string    `json:"rule_id"`
	RuleName     string    `json:"rule_name"`
	ProcessID    int64     `json:"process_id"`
	ProcessName  string    `json:"process_name"`
	Message      string    `json:"message"`
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

// ErrInvalidStatus is returned by UpdateMatchStatus for unknown statuses.
var ErrInvalidStatus = errors.New("invalid status")

// Helper function to create the field config for packet events
func packetFieldConfig() sigma.Config {
	return sigma.Config{
		Title: "ttrace packet config",
		FieldMappings: map[string]sigma.FieldMapping{
			"EventType": {TargetNames: []string{"EventType"}},
			"Kind":      {TargetNames: []string{"Kind"}},
			"Message":   {TargetNames: []string{"Message"}},
			"Code":      {TargetNames: []string{"Code"}},
			"ProcessId": {TargetNames: []string{"ProcessId"}},
			"Image":     {TargetNames: []string{"PrevComm", "NextComm"}},
			"PrevComm":  {TargetNames: []string{"PrevComm"}},
			"NextComm":  {TargetNames: []string{"NextComm"}},
			"PrevPid":   {TargetNames: []string{"PrevPid"}},
			"NextPid":   {TargetNames: []string{"NextPid"}},
			"PrevState": {TargetNames: []string{"PrevState"}},
		},
	}
}

// NewDetector creates a new Sigma detector
func NewDetector(rulesDir string, db *database.DB) (*Detector, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	detector := &Detector{
		RulesDir:   rulesDir,
		db:         db,
		evaluators: make(map[string]*evaluator.RuleEvaluator),
		reloadChan: make(chan bool, 1), // Buffer of 1 to prevent blocking
		watcher:    watcher,
	}

	// Create enabled_rules and disabled_rules directories if they don't exist
	for _, dir := range []string{detector.enabledDir(), filepath.Join(rulesDir, "disabled_rules")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := detector.setupWatcher(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to set up file watcher: %w", err)
	}

	if err := detector.LoadRules(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	return detector, nil
}

func (sd *Detector) enabledDir() string {
	return filepath.Join(sd.RulesDir, "enabled_rules")
}

func (sd *Detector) setupWatcher() error {
	// changes in disabled_rules do not matter
	if err := sd.watcher.Add(sd.enabledDir()); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", sd.enabledDir(), err)
	}
	log.Info().Str("dir", sd.enabledDir()).Msg("Watching directory for rule changes")

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
				log.Info().Str("file", event.Name).Str("op", event.Op.String()).Msg("Detected rule change")
				sd.ReloadRules()
			}

		case err, ok := <-sd.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

func isRuleFile(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".yml" || ext == ".yaml"
}

// LoadRules loads all Sigma rules from the enabled_rules directory
func (sd *Detector) LoadRules() error {
	entries, err := os.ReadDir(sd.enabledDir())
	if err != nil {
		return err
	}

	evaluators := make(map[string]*evaluator.RuleEvaluator)
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}
		filePath := filepath.Join(sd.enabledDir(), entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Warn().Err(err).Str("file", filePath).Msg("Failed to read rule file")
			continue
		}
		ruleEvaluator, err := newRuleEvaluator(content)
		if err != nil {
			log.Warn().Err(err).Str("file", filePath).Msg("Failed to load rule file")
			continue
		}
		evaluators[ruleEvaluator.Rule.ID] = ruleEvaluator
		log.Debug().Str("rule", ruleEvaluator.Rule.ID).Str("title", ruleEvaluator.Rule.Title).Msg("Loaded rule")
	}

	sd.mu.Lock()
	sd.evaluators = evaluators
	sd.mu.Unlock()

	log.Info().Int("rules", len(evaluators)).Str("dir", sd.enabledDir()).Msg("Loaded Sigma rules")
	return nil
}

// ReloadRules asks the polling loop to reload rules.
func (sd *Detector) ReloadRules() {
	select {
	case sd.reloadChan <- true:
	default:
		// a reload is already pending
	}
}

// LoadRule parses one rule document and adds it to the active set.
func (sd *Detector) LoadRule(content []byte) (sigma.Rule, error) {
	ruleEvaluator, err := newRuleEvaluator(content)
	if err != nil {
		return sigma.Rule{}, err
	}
	sd.mu.Lock()
	sd.evaluators[ruleEvaluator.Rule.ID] = ruleEvaluator
	sd.mu.Unlock()
	return ruleEvaluator.Rule, nil
}

// RuleCount returns the number of active rules.
func (sd *Detector) RuleCount() int {
	sd.mu.RLock()
	defer sd.mu.RUnlock()
	return len(sd.evaluators)
}

func newRuleEvaluator(content []byte) (*evaluator.RuleEvaluator, error) {
	if sigma.InferFileType(content) != sigma.RuleFile {
		return nil, fmt.Errorf("not a Sigma rule")
	}

	rule, err := sigma.ParseRule(content)
	if err != nil {
		return nil, err
	}

	// Aggregations and placeholders are not supported over packet streams.
	return evaluator.ForRule(rule,
		evaluator.WithConfig(packetFieldConfig()),
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
		})), nil
}

// GetLastProcessedID gets the last processed ID for an event type
func (sd *Detector) GetLastProcessedID(eventType string) (int64, error) {
	query := `SELECT last_id FROM detector_state WHERE event_type = ? LIMIT 1`

	var lastID int64
	err := sd.db.Db.QueryRow(query, eventType).Scan(&lastID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			initQuery := `
			INSERT INTO detector_state
				(event_type, last_id, last_processed_time, updated_at)
			VALUES
				(?, 0, datetime('now'), datetime('now'))`

			if _, err := sd.db.Db.Exec(initQuery, eventType); err != nil {
				return 0, fmt.Errorf("failed to initialize state for event type %s: %w", eventType, err)
			}
			return 0, nil
		}
		return 0, err
	}

	return lastID, nil
}

// UpdateDetectorState updates the state for an event type
func (sd *Detector) UpdateDetectorState(eventType string, lastID int64, matchCount int) error {
	query := `
	UPDATE detector_state SET
		last_id = ?,
		last_processed_time = datetime('now'),
		rule_count = ?,
		match_count = match_count + ?,
		updated_at = datetime('now')
	WHERE event_type = ?`

	_, err := sd.db.Db.Exec(query, lastID, sd.RuleCount(), matchCount, eventType)
	return err
}

// EventFromRecord flattens a stored packet into the field map rules match
// against.
func EventFromRecord(r database.PacketRecord) map[string]interface{} {
	event := map[string]interface{}{
		"id":        r.ID,
		"EventType": r.EventType,
		"Kind":      r.Kind,
		"ProcessId": int64(r.PID),
		"Session":   r.Session,
	}

	switch r.Kind {
	case "message":
		event["Message"] = r.Message
	case "code":
		if r.Code != nil {
			event["Code"] = int64(*r.Code)
		}
	case "scheduler":
		event["PrevComm"] = r.PrevComm
		event["NextComm"] = r.NextComm
		event["PrevState"] = int64(r.PrevState)
		if r.PrevPID != nil {
			event["PrevPid"] = int64(*r.PrevPID)
		}
		if r.NextPID != nil {
			event["NextPid"] = int64(*r.NextPID)
		}
	}
	return event
}

// CheckEvent checks if an event matches any Sigma rules and returns detailed match results
func (sd *Detector) CheckEvent(ctx context.Context, event map[string]interface{}, eventType string) []MatchResult {
	sd.mu.RLock()
	evaluators := make([]*evaluator.RuleEvaluator, 0, len(sd.evaluators))
	for _, e := range sd.evaluators {
		evaluators = append(evaluators, e)
	}
	sd.mu.RUnlock()

	var results []MatchResult
	for _, ruleEvaluator := range evaluators {
		result, err := ruleEvaluator.Matches(ctx, event)
		if err != nil {
			log.Error().Err(err).Str("event", eventType).Str("rule", ruleEvaluator.Rule.ID).Msg("Error evaluating event")
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
		log.Info().Str("rule", ruleEvaluator.Rule.ID).Strs("conditions", matchConditions).Msg("Event matched rule")
	}

	return results
}

// StoreMatch stores a rule match in the database
func (sd *Detector) StoreMatch(match MatchResult, event map[string]interface{}, eventType string) error {
	eventDataJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	eventID, ok := event["id"].(int64)
	if !ok {
		return fmt.Errorf("event has no valid ID")
	}

	var processID int64
	var processName, message string
	if id, ok := event["ProcessId"].(int64); ok {
		processID = id
	}
	if name, ok := event["NextComm"].(string); ok {
		processName = name
	} else if name, ok := event["ProcessName"].(string); ok {
		processName = name
	}
	if msg, ok := event["Message"].(string); ok {
		message = msg
	}

	matchDetailsJSON, _ := json.Marshal(match.MatchDetails)

	severity := string(match.Rule.Level)
	if severity == "" {
		severity = "medium"
	}

	query := `
	INSERT INTO sigma_matches (
		event_id,
		event_type,
		rule_id,
		rule_name,
		process_id,
		process_name,
		message,
		timestamp,
		severity,
		status,
		match_details,
		event_data,
		created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'new', ?, ?, ?)`

	now := time.Now().UTC()
	_, err = sd.db.Db.Exec(
		query,
		eventID,
		eventType,
		match.Rule.ID,
		match.Rule.Title,
		processID,
		processName,
		message,
		now,
		severity,
		string(matchDetailsJSON),
		string(eventDataJSON),
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}

	log.Info().Str("rule", match.Rule.ID).Str("title", match.Rule.Title).Msg("Stored match")
	return nil
}

// ProcessNewEvents runs every packet stored since the last poll through the
// rules and returns the number of matches.
func (sd *Detector) ProcessNewEvents(ctx context.Context) (int, error) {
	lastID, err := sd.GetLastProcessedID(PacketEventType)
	if err != nil {
		return 0, fmt.Errorf("retrieving last processed ID: %w", err)
	}

	events, err := sd.FetchNewEvents(lastID)
	if err != nil {
		return 0, fmt.Errorf("fetching packet events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	log.Debug().Int("events", len(events)).Msg("Processing new packet events")

	newLastID := lastID
	matchCount := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return matchCount, ctx.Err()
		}

		if id := event["id"].(int64); id > newLastID {
			newLastID = id
		}

		for _, match := range sd.CheckEvent(ctx, event, PacketEventType) {
			if err := sd.StoreMatch(match, event, PacketEventType); err != nil {
				log.Error().Err(err).Msg("Error storing match")
			}
			matchCount++
		}
	}

	if newLastID > lastID {
		if err := sd.UpdateDetectorState(PacketEventType, newLastID, matchCount); err != nil {
			return matchCount, fmt.Errorf("updating detector state: %w", err)
		}
	}
	return matchCount, nil
}

// StartPolling polls for new packets until ctx is done, reloading rules
// whenever the watcher signals a change.
func (sd *Detector) StartPolling(ctx context.Context, interval time.Duration) error {
	sd.mu.Lock()
	if sd.running {
		sd.mu.Unlock()
		return fmt.Errorf("detector is already running")
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

	log.Info().Str("event", PacketEventType).Dur("interval", interval).Msg("Started Sigma polling")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sigma detection stopped")
			return nil
		case <-sd.reloadChan:
			log.Info().Msg("Reloading Sigma rules")
			if err := sd.LoadRules(); err != nil {
				log.Error().Err(err).Msg("Error reloading rules")
			}
		case <-ticker.C:
			if _, err := sd.ProcessNewEvents(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Error processing packet events")
			}
		}
	}
}

// StopPolling closes the rule watcher
func (sd *Detector) StopPolling() {
	if sd.watcher != nil {
		sd.watcher.Close()
	}
	log.Info().Msg("Sigma detection polling stopped")
}

// FetchNewEvents fetches packets stored after lastID as rule events
func (sd *Detector) FetchNewEvents(lastID int64) ([]map[string]interface{}, error) {
	records, err := sd.db.PacketsAfter(lastID, 1000)
	if err != nil {
		return nil, err
	}

	events := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		events = append(events, EventFromRecord(r))
	}
	return events, nil
}

// GetMatches retrieves sigma matches from the database with filters
func (sd *Detector) GetMatches(limit int, offset int, filters map[string]string) ([]SigmaMatch, error) {
	query := `
    SELECT
        id, event_id, event_type, rule_id, rule_name,
        process_id, process_name, message,
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

	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sd.db.Db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []SigmaMatch
	for rows.Next() {
		var match SigmaMatch
		var processName, message, matchDetailsJSON, eventDataJSON sql.NullString

		err := rows.Scan(
			&match.ID, &match.EventID, &match.EventType, &match.RuleID, &match.RuleName,
			&match.ProcessID, &processName, &message,
			&match.Timestamp, &match.Severity, &match.Status, &matchDetailsJSON, &eventDataJSON, &match.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		match.ProcessName = processName.String
		match.Message = message.String
		if matchDetailsJSON.Valid {
			json.Unmarshal([]byte(matchDetailsJSON.String), &match.MatchDetails)
		}
		match.EventData = eventDataJSON.String

		matches = append(matches, match)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return matches, nil
}

// GetMatchStats retrieves statistics about sigma matches
func (sd *Detector) GetMatchStats() (map[string]interface{}, error) {
	var totalRules int
	err := sd.db.Db.QueryRow("SELECT COUNT(*) FROM (SELECT DISTINCT rule_id FROM sigma_matches)").Scan(&totalRules)
	if err != nil {
		return nil, err
	}

	countBy := func(column string) (map[string]int, error) {
		counts := make(map[string]int)
		rows, err := sd.db.Db.Query("SELECT " + column + ", COUNT(*) FROM sigma_matches GROUP BY " + column)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

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

	sevCounts, err := countBy("severity")
	if err != nil {
		return nil, err
	}
	statusCounts, err := countBy("status")
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

// UpdateMatchStatus updates the status of a match
func (sd *Detector) UpdateMatchStatus(matchID int64, newStatus string) error {
	validStatuses := map[string]bool{
		"new":            true,
		"in_progress":    true,
		"resolved":       true,
		"false_positive": true,
	}

	if !validStatuses[newStatus] {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, newStatus)
	}

	res, err := sd.db.Db.Exec(
		"UPDATE sigma_matches SET status = ? WHERE id = ?",
		newStatus, matchID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("match %d: %w", matchID, sql.ErrNoRows)
	}
	return nil
}
