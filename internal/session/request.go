package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/neurobridge/internal/protocol/control"
)

// StartRequest is a validated startSession message.
type StartRequest struct {
	Kind         Kind
	DataPath     string
	ModelPath    string
	NewModelPath string
	UpdateCount  int
}

func ParseStartRequest(msg control.Message) (StartRequest, error) {
	if msg.Method != control.MethodStartSession {
		return StartRequest{}, fmt.Errorf("%w: expected %s", control.ErrInvalidMessage, control.MethodStartSession)
	}
	name, err := msg.RequireString(control.FieldSessionName)
	if err != nil {
		return StartRequest{}, err
	}
	kind, err := ParseKind(name)
	if err != nil {
		return StartRequest{}, err
	}
	req := StartRequest{Kind: kind}
	if req.DataPath, err = msg.RequireString(control.FieldDataPath); err != nil {
		return StartRequest{}, err
	}
	if req.ModelPath, err = msg.RequireString(control.FieldModelPath); err != nil {
		return StartRequest{}, err
	}
	if kind == KindPassive {
		if req.NewModelPath, err = msg.RequireString(control.FieldNewModelPath); err != nil {
			return StartRequest{}, err
		}
		if req.UpdateCount, err = msg.Int(control.FieldUpdateCount); err != nil {
			return StartRequest{}, err
		}
		if req.UpdateCount < 0 {
			return StartRequest{}, fmt.Errorf("%w: updateCount must be >= 0", control.ErrInvalidMessage)
		}
	}
	return req, nil
}

// Validate checks the filesystem preconditions for starting.
func (r StartRequest) Validate() error {
	if err := requireDir(r.DataPath); err != nil {
		return err
	}
	switch r.Kind {
	case KindTraining:
		return requireDir(r.ModelPath)
	case KindActive:
		return requireFile(r.ModelPath)
	case KindPassive:
		if err := requireFile(r.ModelPath); err != nil {
			return err
		}
		return requireDir(r.NewModelPath)
	}
	return nil
}

// BuildRequest is a validated startBuilding message.
type BuildRequest struct {
	SessionName string
	DataPath    string
	ModelPath   string
}

func ParseBuildRequest(msg control.Message) (BuildRequest, error) {
	if msg.Method != control.MethodStartBuilding {
		return BuildRequest{}, fmt.Errorf("%w: expected %s", control.ErrInvalidMessage, control.MethodStartBuilding)
	}
	var (
		req BuildRequest
		err error
	)
	if req.SessionName, err = msg.RequireString(control.FieldSessionName); err != nil {
		return BuildRequest{}, err
	}
	if req.DataPath, err = msg.RequireString(control.FieldDataPath); err != nil {
		return BuildRequest{}, err
	}
	if req.ModelPath, err = msg.RequireString(control.FieldModelPath); err != nil {
		return BuildRequest{}, err
	}
	return req, nil
}

// requireDir checks that the directory holding path exists.
func requireDir(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return operationFailed("directory %s: %v", dir, err)
	}
	if !info.IsDir() {
		return operationFailed("%s is not a directory", dir)
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return operationFailed("model %s: %v", path, err)
	}
	if info.IsDir() {
		return operationFailed("model %s is a directory", path)
	}
	return nil
}
