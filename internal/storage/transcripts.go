package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parlo-ai/voice-gateway/internal/session"
)

// TranscriptRecord represents a transcriptRecord.
type TranscriptRecord struct {
	SessionID     string            `json:"session_id"`
	CharacterID   string            `json:"character_id"`
	CharacterName string            `json:"character_name,omitempty"`
	CompletedAt   string            `json:"completed_at"`
	TurnCount     int               `json:"turn_count"`
	Messages      []session.Message `json:"messages"`
}

// TranscriptInfo represents a transcriptInfo.
type TranscriptInfo struct {
	UID         string `json:"uid"`
	SessionID   string `json:"session_id"`
	CompletedAt string `json:"completed_at"`
	TurnCount   int    `json:"turn_count"`
}

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\.]+$`)

// SaveTranscript archives one completed session transcript under the
// character's directory and returns the archive uid.
func SaveTranscript(baseDir string, record TranscriptRecord) (string, error) {
	if record.SessionID == "" {
		return "", errors.New("session_id is empty")
	}
	dir, err := ensureCharacterDir(baseDir, record.CharacterID)
	if err != nil {
		return "", err
	}
	if record.CompletedAt == "" {
		record.CompletedAt = time.Now().Format(time.RFC3339)
	}
	uid := time.Now().Format("2006-01-02_15-04-05") + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	path := filepath.Join(dir, uid+".json")
	if err := writeRecord(path, record); err != nil {
		return "", err
	}
	return uid, nil
}

// GetTranscript executes the getTranscript function.
func GetTranscript(baseDir string, characterID string, uid string) (TranscriptRecord, error) {
	path, err := transcriptPath(baseDir, characterID, uid)
	if err != nil {
		return TranscriptRecord{}, err
	}
	return readRecord(path)
}

// DeleteTranscript executes the deleteTranscript function.
func DeleteTranscript(baseDir string, characterID string, uid string) bool {
	path, err := transcriptPath(baseDir, characterID, uid)
	if err != nil {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		return false
	}
	return true
}

// ListTranscripts returns archive infos for one character, newest first.
func ListTranscripts(baseDir string, characterID string) []TranscriptInfo {
	list := []TranscriptInfo{}
	dir, err := ensureCharacterDir(baseDir, characterID)
	if err != nil {
		return list
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		uid := strings.TrimSuffix(entry.Name(), ".json")
		record, err := readRecord(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		list = append(list, TranscriptInfo{
			UID:         uid,
			SessionID:   record.SessionID,
			CompletedAt: record.CompletedAt,
			TurnCount:   record.TurnCount,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].CompletedAt > list[j].CompletedAt
	})

	return list
}

func ensureCharacterDir(baseDir string, characterID string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(characterID) {
		return "", errors.New("invalid character_id")
	}
	path := filepath.Join(baseDir, characterID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func transcriptPath(baseDir string, characterID string, uid string) (string, error) {
	if baseDir == "" {
		return "", errors.New("transcript base dir is empty")
	}
	if !safeNamePattern.MatchString(characterID) || !safeNamePattern.MatchString(uid) {
		return "", errors.New("invalid transcript path")
	}
	return filepath.Join(baseDir, characterID, uid+".json"), nil
}

func readRecord(path string) (TranscriptRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TranscriptRecord{}, err
	}
	var record TranscriptRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return TranscriptRecord{}, err
	}
	return record, nil
}

func writeRecord(path string, record TranscriptRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
