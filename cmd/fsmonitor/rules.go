package main

import (
	"fmt"
	"time"

	"fsmonitor/internal/config"
	"fsmonitor/internal/logging"
	"fsmonitor/internal/monitor"
)

// ruleListener builds the listener a config rule declares: deliveries are
// logged, and only the selected event kinds get callbacks. An empty events
// list selects every kind.
func ruleListener(rule config.Rule, logger *logging.Logger) (*monitor.FuncListener, error) {
	selected := make(map[monitor.EventType]struct{})
	if len(rule.Events) == 0 {
		for _, eventType := range monitor.EventTypes() {
			selected[eventType] = struct{}{}
		}
	}
	for _, name := range rule.Events {
		eventType, ok := monitor.ParseEventType(name)
		if !ok {
			return nil, fmt.Errorf("rule %q: unknown event type %q", rule.Pattern, name)
		}
		selected[eventType] = struct{}{}
	}

	debounce := time.Duration(0)
	if rule.DebounceMS != nil {
		debounce = time.Duration(*rule.DebounceMS) * time.Millisecond
		if *rule.DebounceMS < 0 {
			debounce = -1
		}
	}

	log := func(eventType monitor.EventType) func(string) {
		if _, ok := selected[eventType]; !ok {
			return nil
		}
		return func(path string) {
			logger.Info("change detected", map[string]string{
				"rule":  rule.Pattern,
				"event": string(eventType),
				"path":  path,
			})
		}
	}

	listener := &monitor.FuncListener{
		Glob:         rule.Pattern,
		Debounce:     debounce,
		FileCreated:  log(monitor.FileCreated),
		FileModified: log(monitor.FileModified),
		FileDeleted:  log(monitor.FileDeleted),
		DirCreated:   log(monitor.DirectoryCreated),
		DirDeleted:   log(monitor.DirectoryDeleted),
		LinkCreated:  log(monitor.SymlinkCreated),
		LinkDeleted:  log(monitor.SymlinkDeleted),
	}
	if _, ok := selected[monitor.SymlinkTargetChanged]; ok {
		listener.LinkTargetMoved = func(path, oldTarget, newTarget string) {
			logger.Info("change detected", map[string]string{
				"rule":       rule.Pattern,
				"event":      string(monitor.SymlinkTargetChanged),
				"path":       path,
				"old_target": oldTarget,
				"new_target": newTarget,
			})
		}
	}
	return listener, nil
}

func registerRules(m *monitor.Monitor, rules []config.Rule, logger *logging.Logger) error {
	for _, rule := range rules {
		listener, err := ruleListener(rule, logger)
		if err != nil {
			return err
		}
		if _, err := m.RegisterListener(listener); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Pattern, err)
		}
	}
	return nil
}
