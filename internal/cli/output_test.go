package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccessRebuild(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(rebuildResult{Branch: "echo/foo/bar", Status: "triggered"})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONErrorConfig(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeConfig, "projects: at least one project is required", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	assert.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
	assert.Equal(t, "projects: at least one project is required", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorRebuildWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"branch": "echo/foo/bar"}
	err := formatter.Error(ErrCodeRebuild, `no saved log found for branch "echo/foo/bar"`, details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeRebuild, resp.Error.Code)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccessRebuild(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(rebuildResult{Branch: "echo/foo/bar", Status: "triggered"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "rebuild triggered for echo/foo/bar")
}

func TestOutputFormatter_TextSuccessCancelNotFound(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	result := cancelResult{Branch: "echo/foo/bar", OK: false, Message: `no live build attached to "echo/foo/bar"`}
	err := formatter.Success(result)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `no live build attached to "echo/foo/bar"`)
}

func TestOutputFormatter_TextErrorSync(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: false,
	}

	err := formatter.Error(ErrCodeSync, "store unreachable", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [SYNC]")
	assert.Contains(t, buf.String(), "store unreachable")
}

func TestOutputFormatter_TextErrorRebuildVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"branch": "echo/foo/bar"}
	err := formatter.Error(ErrCodeRebuild, "rebuild failed", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [REBUILD]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("recalculating %s", "PR#7")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "recalculating PR#7")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{
		Status: "ok",
		Data:   rebuildResult{Branch: "echo/foo/bar", Status: "triggered"},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded CLIResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestCLIError_JSON(t *testing.T) {
	cliErr := CLIError{
		Code:    ErrCodeConfig,
		Message: "projects: at least one project is required",
		Details: []string{"forge.yaml"},
	}

	data, err := json.Marshal(cliErr)
	require.NoError(t, err)

	var decoded CLIError
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeConfig, decoded.Code)
	assert.Equal(t, "projects: at least one project is required", decoded.Message)
}
