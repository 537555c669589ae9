package container

import (
	"context"
	"encoding/json"
	"os"

	cerrors "github.com/nk-runtime/nk/errors"
)

// PrintState writes the OCI "state" command's JSON document for id to
// stdout. A missing record surfaces as a not-found error; callers render
// this as the "unknown" status with a non-zero exit (spec.md scenario D).
func PrintState(ctx context.Context, id, stateRoot string) error {
	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return err
	}

	c.RefreshStatus()

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c.GetOCIState())
}

// StateJSON returns the container's OCI state document as a JSON string.
func StateJSON(ctx context.Context, id, stateRoot string) (string, error) {
	c, err := Load(ctx, id, stateRoot)
	if err != nil {
		return "", err
	}

	c.RefreshStatus()

	data, err := json.MarshalIndent(c.GetOCIState(), "", "  ")
	if err != nil {
		return "", cerrors.Wrap(err, cerrors.ErrSyscallFailed, "marshal state")
	}
	return string(data), nil
}
