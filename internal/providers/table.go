package providers

import (
	"remote-exec-mcp/internal/config"
	"remote-exec-mcp/internal/registry"
)

// Core tool names, always claimed. The direct transfer tools are suppressed
// when the intermediary provider takes over file movement.
const (
	ToolExecCommand  = "ssh_exec_command"
	ToolUploadFile   = "ssh_upload_file"
	ToolDownloadFile = "ssh_download_file"

	ToolRequestUpload   = "transfer_request_upload"
	ToolConfirmUpload   = "transfer_confirm_upload"
	ToolRequestDownload = "transfer_request_download"
	ToolConfirmDownload = "transfer_confirm_download"

	ToolContainerExec     = "container_exec_command"
	ToolContainerList     = "container_list"
	ToolContainerStatus   = "container_status"
	ToolContainerStart    = "container_start"
	ToolContainerStop     = "container_stop"
	ToolContainerUpload   = "container_upload_file"
	ToolContainerDownload = "container_download_file"
)

// CoreTools is the always-present operation set.
func CoreTools() []string {
	return []string{ToolExecCommand, ToolUploadFile, ToolDownloadFile}
}

// Table returns the statically-known provider declarations for the given
// configuration. Evaluation order is fixed, though composition does not
// depend on it.
func Table(cfg *config.Config) []registry.Provider {
	return []registry.Provider{
		{
			Name:    "intermediary",
			Enabled: cfg.IntermediaryEnabled(),
			Tools: []string{
				ToolRequestUpload,
				ToolConfirmUpload,
				ToolRequestDownload,
				ToolConfirmDownload,
			},
			// Indirect transfer replaces every direct transfer surface,
			// the container file tools included.
			Suppresses: []string{
				ToolUploadFile,
				ToolDownloadFile,
				ToolContainerUpload,
				ToolContainerDownload,
			},
		},
		{
			Name:    "container",
			Enabled: cfg.ContainerTools,
			Tools: []string{
				ToolContainerExec,
				ToolContainerList,
				ToolContainerStatus,
				ToolContainerStart,
				ToolContainerStop,
				ToolContainerUpload,
				ToolContainerDownload,
			},
		},
	}
}
