package yaml

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	yamlv3 "gopkg.in/yaml.v3"
)

func TestQuarantine(t *testing.T) {
	outDir := t.TempDir()
	filePath := filepath.Join(outDir, "corrupted.yaml")

	// Create a corrupted file
	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	if err := Quarantine(outDir, filePath); err != nil {
		t.Fatalf("Quarantine failed: %v", err)
	}

	// Original file should be gone
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Error("original file should be removed after quarantine")
	}

	// Quarantine dir should have the file
	quarantineDir := filepath.Join(outDir, "quarantine")
	entries, err := os.ReadDir(quarantineDir)
	if err != nil {
		t.Fatalf("ReadDir quarantine failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined file, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Name(), "corrupted.yaml.") || !strings.HasSuffix(entries[0].Name(), ".corrupt") {
		t.Errorf("unexpected quarantine filename: %s", entries[0].Name())
	}
}

func TestRestoreFromBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test.yaml")
	bakPath := filePath + ".bak"

	// Create a valid backup
	validContent := []byte("schema_version: 1\nfile_type: goal_state\nticks: 3\n")
	os.WriteFile(bakPath, validContent, 0644)

	if err := RestoreFromBackup(filePath); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	// File should be restored
	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var header SchemaHeader
	if err := yamlv3.Unmarshal(content, &header); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if header.FileType != "goal_state" {
		t.Errorf("file_type: got %q", header.FileType)
	}
}

func TestRestoreFromBackup_NoBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test.yaml")

	err := RestoreFromBackup(filePath)
	if err == nil {
		t.Error("expected error when no backup exists")
	}
}

func TestRestoreFromBackup_CorruptBackup(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "test.yaml")
	bakPath := filePath + ".bak"

	os.WriteFile(bakPath, []byte(":\n  broken: [\n"), 0644)

	err := RestoreFromBackup(filePath)
	if err == nil {
		t.Error("expected error when backup is also corrupted")
	}
}

func TestGenerateSkeleton(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "grants.yaml")

	if err := GenerateSkeleton(filePath, FileTypeGrants); err != nil {
		t.Fatalf("GenerateSkeleton failed: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var data map[string]any
	if err := yamlv3.Unmarshal(content, &data); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if data["schema_version"] != CurrentSchemaVersion {
		t.Errorf("schema_version: got %v", data["schema_version"])
	}
	if data["file_type"] != FileTypeGrants {
		t.Errorf("file_type: got %v", data["file_type"])
	}
	if _, ok := data["grants"]; !ok {
		t.Error("missing expected field: grants")
	}
}

func TestGenerateSkeleton_GoalStateUnsupported(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "state.yaml")
	if err := GenerateSkeleton(filePath, FileTypeGoalState); err == nil {
		t.Error("expected error for goal_state skeleton")
	}
}

func TestRecoverCorruptedFile_WithBackup(t *testing.T) {
	outDir := t.TempDir()
	filePath := filepath.Join(outDir, "test.yaml")
	bakPath := filePath + ".bak"

	// Create corrupted file and valid backup
	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)
	os.WriteFile(bakPath, []byte("schema_version: 1\nfile_type: goal_state\nticks: 3\n"), 0644)

	if err := RecoverCorruptedFile(outDir, filePath, "goal_state"); err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}

	// File should be restored from backup
	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var header SchemaHeader
	yamlv3.Unmarshal(content, &header)
	if header.FileType != "goal_state" {
		t.Errorf("expected goal_state, got %q", header.FileType)
	}

	// Quarantine should have the corrupted file
	quarantineDir := filepath.Join(outDir, "quarantine")
	entries, _ := os.ReadDir(quarantineDir)
	if len(entries) != 1 {
		t.Errorf("expected 1 quarantined file, got %d", len(entries))
	}
}

func TestRecoverCorruptedFile_WithoutBackup(t *testing.T) {
	outDir := t.TempDir()
	filePath := filepath.Join(outDir, "test.yaml")

	// Create corrupted file, no backup
	os.WriteFile(filePath, []byte("corrupted: [\n"), 0644)

	if err := RecoverCorruptedFile(outDir, filePath, FileTypeGrants); err != nil {
		t.Fatalf("RecoverCorruptedFile failed: %v", err)
	}

	// File should be a skeleton
	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var data map[string]any
	yamlv3.Unmarshal(content, &data)
	if data["file_type"] != FileTypeGrants {
		t.Errorf("expected grants, got %v", data["file_type"])
	}
	if _, ok := data["grants"]; !ok {
		t.Error("expected grants field in skeleton")
	}
}
