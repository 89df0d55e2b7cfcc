package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	CloseAudit()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	workspace = ""
	config = loggingConfig{}
	configLoaded = false
	logLevel = LevelInfo
}

func writeTestConfig(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, ".crucible")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true
		}
	}`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	categories := []Category{
		CategoryBoot, CategorySession, CategoryIteration, CategoryKnowledge,
		CategorySimilarity, CategoryStore, CategoryOrchestrator, CategoryProbe,
	}
	for _, cat := range categories {
		Get(cat).Info("test message for %s", cat)
	}
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".crucible", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}

	found := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.Contains(e.Name(), string(cat)) {
				found[string(cat)] = true
			}
		}
	}
	for _, cat := range categories {
		if !found[string(cat)] {
			t.Errorf("No log file created for category %s", cat)
		}
	}
}

func TestNoLoggingWithoutDebugMode(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": false
		}
	}`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Session("this should not be written")
	Iteration("neither should this")

	if _, err := os.Stat(filepath.Join(tempDir, ".crucible", "logs")); !os.IsNotExist(err) {
		t.Error("Logs directory should not exist in production mode")
	}
}

func TestCategoryFilter(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true,
			"categories": {
				"iteration": true,
				"knowledge": false
			}
		}
	}`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !IsCategoryEnabled(CategoryIteration) {
		t.Error("iteration category should be enabled")
	}
	if IsCategoryEnabled(CategoryKnowledge) {
		t.Error("knowledge category should be disabled")
	}
	// Unlisted categories default to enabled in debug mode.
	if !IsCategoryEnabled(CategoryProbe) {
		t.Error("unlisted category should default to enabled")
	}
}

func TestAuditTrail(t *testing.T) {
	tempDir := t.TempDir()
	writeTestConfig(t, tempDir, `{
		"logging": {
			"level": "debug",
			"debug_mode": true
		}
	}`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := InitAudit(); err != nil {
		t.Fatalf("InitAudit failed: %v", err)
	}

	audit := AuditWithWorker("session-1", "worker-1")
	audit.Attempt(1, 42.5, false, 0, 3)
	audit.KnowledgeHit("cannot resolve module <n>", 92.0, "npm install")
	audit.StateChange("running", "success", "score threshold reached")
	CloseAudit()

	entries, err := os.ReadDir(filepath.Join(tempDir, ".crucible", "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	var auditName string
	for _, e := range entries {
		if strings.Contains(e.Name(), "audit") {
			auditName = e.Name()
		}
	}
	if auditName == "" {
		t.Fatal("No audit log file created")
	}

	data, err := os.ReadFile(filepath.Join(tempDir, ".crucible", "logs", auditName))
	if err != nil {
		t.Fatalf("Failed to read audit log: %v", err)
	}
	content := string(data)
	for _, want := range []string{"attempt_complete", "knowledge_hit", "state_change", "worker-1"} {
		if !strings.Contains(content, want) {
			t.Errorf("Audit log missing %q", want)
		}
	}
}

func TestTimerStop(t *testing.T) {
	resetState()
	defer resetState()

	timer := StartTimer(CategoryIteration, "test op")
	elapsed := timer.Stop()
	if elapsed < 0 {
		t.Errorf("Timer returned negative duration: %v", elapsed)
	}
}

func TestEnableDebugOverridesConfig(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	defer resetState()

	// No config file: production mode, logging silent.
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if IsDebugMode() {
		t.Fatal("debug mode on without config")
	}

	if err := EnableDebug([]string{"iteration"}, false); err != nil {
		t.Fatalf("EnableDebug failed: %v", err)
	}
	if !IsDebugMode() {
		t.Error("debug mode still off after EnableDebug")
	}
	if !IsCategoryEnabled(CategoryIteration) {
		t.Error("iteration category not enabled")
	}
	if IsCategoryEnabled(CategoryStore) {
		t.Error("store category enabled despite filter")
	}

	Iteration("override smoke test")
	CloseAll()
	if _, err := os.Stat(filepath.Join(tempDir, ".crucible", "logs")); err != nil {
		t.Errorf("logs dir missing after EnableDebug: %v", err)
	}
}
