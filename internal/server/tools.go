package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"

	"remote-exec-mcp/internal/format"
	"remote-exec-mcp/internal/providers"
	"remote-exec-mcp/internal/security"
	"remote-exec-mcp/internal/transfer"
)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition mcp.Tool
	Handler    func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools returns the full tool table. Registration filters it against the
// composed exposed set.
func Tools(deps Deps) []Tool {
	return []Tool{
		{Definition: execCommandTool(deps), Handler: handleExecCommand(deps)},
		{Definition: uploadFileTool(), Handler: handleUploadFile(deps)},
		{Definition: downloadFileTool(), Handler: handleDownloadFile(deps)},
		{Definition: requestUploadTool(), Handler: handleRequestUpload(deps)},
		{Definition: confirmUploadTool(), Handler: handleConfirmUpload(deps)},
		{Definition: requestDownloadTool(), Handler: handleRequestDownload(deps)},
		{Definition: confirmDownloadTool(), Handler: handleConfirmDownload(deps)},
		{Definition: containerExecTool(deps), Handler: handleContainerExec(deps)},
		{Definition: containerListTool(), Handler: handleContainerList(deps)},
		{Definition: containerStatusTool(), Handler: handleContainerStatus(deps)},
		{Definition: containerStartTool(), Handler: handleContainerStart(deps)},
		{Definition: containerStopTool(), Handler: handleContainerStop(deps)},
		{Definition: containerUploadTool(), Handler: handleContainerUpload(deps)},
		{Definition: containerDownloadTool(), Handler: handleContainerDownload(deps)},
	}
}

func execCommandTool(deps Deps) mcp.Tool {
	return mcp.NewTool(providers.ToolExecCommand,
		mcp.WithDescription("Execute a shell command on the managed host"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute"),
		),
		mcp.WithNumber("timeout",
			mcp.DefaultNumber(float64(deps.Config.Security.DefaultTimeout)),
			mcp.Description("Command timeout in seconds (max 300)"),
		),
		mcp.WithString("response_format",
			mcp.DefaultString("text"),
			mcp.Description("Output format: 'text' or 'json'"),
		),
	)
}

func handleExecCommand(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Gate.CheckRiskAccepted(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		command := request.GetString("command", "")
		timeout := request.GetInt("timeout", deps.Config.Security.DefaultTimeout)
		mode := format.ParseMode(request.GetString("response_format", "text"))

		result, err := deps.Sessions.Exec(ctx, command, timeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		rendered := format.Render(result, deps.Config.Security.CharacterLimit, mode)
		if rendered.Mode == format.ModeStructured {
			return jsonResult(rendered.Structured)
		}
		return mcp.NewToolResultText(rendered.Text), nil
	}
}

func uploadFileTool() mcp.Tool {
	return mcp.NewTool(providers.ToolUploadFile,
		mcp.WithDescription("Upload a file from the server's filesystem to the managed host"),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Source file path on the server"),
		),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Destination file path on the host"),
		),
		mcp.WithNumber("permissions",
			mcp.Description("File permissions as octal digits, e.g. 644"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Replace the destination if it exists"),
		),
	)
}

func handleUploadFile(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Gate.CheckRiskAccepted(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		localPath := request.GetString("local_path", "")
		remotePath := request.GetString("remote_path", "")
		permissions := request.GetInt("permissions", 0)
		overwrite := request.GetBool("overwrite", false)

		if err := deps.Gate.ValidatePath(remotePath); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if permissions != 0 {
			if err := deps.Gate.ValidatePermissions(permissions); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}

		data, err := os.ReadFile(localPath)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot read local file: %v", err)), nil
		}
		if int64(len(data)) > deps.Config.Security.MaxFileSize {
			return mcp.NewToolResultError(fmt.Sprintf("file exceeds size limit: %d > %d bytes", len(data), deps.Config.Security.MaxFileSize)), nil
		}

		if !overwrite {
			exists, err := deps.Files.Exists(ctx, remotePath)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if exists {
				return mcp.NewToolResultError(fmt.Sprintf("remote file already exists: %s, set overwrite=true to replace it", remotePath)), nil
			}
		}

		mode := uint32(0)
		if permissions != 0 {
			mode = security.FileMode(permissions)
		}
		if err := deps.Files.WriteFile(ctx, remotePath, data, mode); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(&transfer.ConfirmResult{
			Success:          true,
			Message:          "Successfully uploaded to host: " + remotePath,
			RemotePath:       remotePath,
			BytesTransferred: int64(len(data)),
		})
	}
}

func downloadFileTool() mcp.Tool {
	return mcp.NewTool(providers.ToolDownloadFile,
		mcp.WithDescription("Download a file from the managed host to the server's filesystem"),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Source file path on the host"),
		),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Destination file path on the server"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Replace the destination if it exists"),
		),
	)
}

func handleDownloadFile(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Gate.CheckRiskAccepted(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		remotePath := request.GetString("remote_path", "")
		localPath := request.GetString("local_path", "")
		overwrite := request.GetBool("overwrite", false)

		if err := deps.Gate.ValidatePath(remotePath); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !overwrite {
			if _, err := os.Stat(localPath); err == nil {
				return mcp.NewToolResultError(fmt.Sprintf("local file already exists: %s, set overwrite=true to replace it", localPath)), nil
			}
		}

		exists, err := deps.Files.Exists(ctx, remotePath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !exists {
			return mcp.NewToolResultError("remote file not found: "+remotePath), nil
		}

		size, err := deps.Files.Size(ctx, remotePath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if size > deps.Config.Security.MaxFileSize {
			return mcp.NewToolResultError(fmt.Sprintf("file exceeds size limit: %d > %d bytes", size, deps.Config.Security.MaxFileSize)), nil
		}

		data, err := deps.Files.ReadFile(ctx, remotePath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot write local file: %v", err)), nil
		}

		return jsonResult(&transfer.ConfirmResult{
			Success:          true,
			Message:          "Successfully downloaded from host: " + remotePath,
			RemotePath:       remotePath,
			BytesTransferred: int64(len(data)),
		})
	}
}

func requestUploadTool() mcp.Tool {
	return mcp.NewTool(providers.ToolRequestUpload,
		mcp.WithDescription("Request an indirect upload: returns a transfer id and a command to push the file to the staging intermediary"),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Destination file path on the host"),
		),
		mcp.WithNumber("permissions",
			mcp.Description("File permissions as octal digits, e.g. 644"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Replace the destination if it exists"),
		),
	)
}

func handleRequestUpload(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Bridge.RequestUpload(ctx,
			request.GetString("remote_path", ""),
			request.GetInt("permissions", 0),
			request.GetBool("overwrite", false),
		)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func confirmUploadTool() mcp.Tool {
	return mcp.NewTool(providers.ToolConfirmUpload,
		mcp.WithDescription("Confirm an indirect upload after the file was pushed to the intermediary"),
		mcp.WithString("transfer_id",
			mcp.Required(),
			mcp.Description("The transfer id returned by transfer_request_upload"),
		),
	)
}

func handleConfirmUpload(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Bridge.ConfirmUpload(ctx, request.GetString("transfer_id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func requestDownloadTool() mcp.Tool {
	return mcp.NewTool(providers.ToolRequestDownload,
		mcp.WithDescription("Request an indirect download: stages the file at the intermediary and returns a retrieval URL"),
		mcp.WithString("remote_path",
			mcp.Required(),
			mcp.Description("Source file path on the host"),
		),
	)
}

func handleRequestDownload(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Bridge.RequestDownload(ctx, request.GetString("remote_path", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func confirmDownloadTool() mcp.Tool {
	return mcp.NewTool(providers.ToolConfirmDownload,
		mcp.WithDescription("Confirm an indirect download and clean up the staged copy"),
		mcp.WithString("transfer_id",
			mcp.Required(),
			mcp.Description("The transfer id returned by transfer_request_download"),
		),
	)
}

func handleConfirmDownload(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Bridge.ConfirmDownload(ctx, request.GetString("transfer_id", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func containerExecTool(deps Deps) mcp.Tool {
	return mcp.NewTool(providers.ToolContainerExec,
		mcp.WithDescription("Execute a command inside an LXC container on the managed host"),
		mcp.WithNumber("ctid",
			mcp.Required(),
			mcp.Description("Container ID (100-999999999)"),
		),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("The command to execute in the container"),
		),
		mcp.WithNumber("timeout",
			mcp.DefaultNumber(float64(deps.Config.Security.DefaultTimeout)),
			mcp.Description("Command timeout in seconds (max 300)"),
		),
		mcp.WithString("response_format",
			mcp.DefaultString("text"),
			mcp.Description("Output format: 'text' or 'json'"),
		),
	)
}

func handleContainerExec(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := deps.Containers.Exec(ctx,
			request.GetInt("ctid", 0),
			request.GetString("command", ""),
			request.GetInt("timeout", deps.Config.Security.DefaultTimeout),
		)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		mode := format.ParseMode(request.GetString("response_format", "text"))
		rendered := format.Render(result, deps.Config.Security.CharacterLimit, mode)
		if rendered.Mode == format.ModeStructured {
			return jsonResult(rendered.Structured)
		}
		return mcp.NewToolResultText(rendered.Text), nil
	}
}

func containerListTool() mcp.Tool {
	return mcp.NewTool(providers.ToolContainerList,
		mcp.WithDescription("List LXC containers on the managed host"),
	)
}

func handleContainerList(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := deps.Containers.List(ctx, deps.Config.Security.DefaultTimeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rendered := format.Render(result, deps.Config.Security.CharacterLimit, format.ModeText)
		return mcp.NewToolResultText(rendered.Text), nil
	}
}

func containerStatusTool() mcp.Tool {
	return mcp.NewTool(providers.ToolContainerStatus,
		mcp.WithDescription("Get the status of an LXC container on the managed host"),
		mcp.WithNumber("ctid",
			mcp.Required(),
			mcp.Description("Container ID (100-999999999)"),
		),
	)
}

func handleContainerStatus(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := deps.Containers.Status(ctx,
			request.GetInt("ctid", 0),
			deps.Config.Security.DefaultTimeout,
		)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		rendered := format.Render(result, deps.Config.Security.CharacterLimit, format.ModeText)
		return mcp.NewToolResultText(rendered.Text), nil
	}
}

func containerStartTool() mcp.Tool {
	return mcp.NewTool(providers.ToolContainerStart,
		mcp.WithDescription("Start a stopped LXC container on the managed host"),
		mcp.WithNumber("ctid",
			mcp.Required(),
			mcp.Description("Container ID to start"),
		),
	)
}

func handleContainerStart(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Containers.Start(ctx, request.GetInt("ctid", 0), deps.Config.Security.DefaultTimeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

func containerStopTool() mcp.Tool {
	return mcp.NewTool(providers.ToolContainerStop,
		mcp.WithDescription("Stop a running LXC container on the managed host"),
		mcp.WithNumber("ctid",
			mcp.Required(),
			mcp.Description("Container ID to stop"),
		),
	)
}

func handleContainerStop(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := deps.Containers.Stop(ctx, request.GetInt("ctid", 0), deps.Config.Security.DefaultTimeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(res)
	}
}

// containerFileResult is the response shape of the container file tools.
type containerFileResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	CTID             int    `json:"ctid"`
	ContainerPath    string `json:"container_path"`
	BytesTransferred int64  `json:"bytes_transferred"`
}

func containerUploadTool() mcp.Tool {
	return mcp.NewTool(providers.ToolContainerUpload,
		mcp.WithDescription("Upload a file from the server's filesystem into an LXC container, staged through the managed host"),
		mcp.WithNumber("ctid",
			mcp.Required(),
			mcp.Description("Container ID to upload into"),
		),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Source file path on the server"),
		),
		mcp.WithString("container_path",
			mcp.Required(),
			mcp.Description("Destination file path inside the container"),
		),
		mcp.WithNumber("permissions",
			mcp.Description("File permissions as octal digits, e.g. 644"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Replace the destination if it exists"),
		),
	)
}

func handleContainerUpload(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctid := request.GetInt("ctid", 0)
		localPath := request.GetString("local_path", "")
		containerPath := request.GetString("container_path", "")

		data, err := os.ReadFile(localPath)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot read local file: %v", err)), nil
		}
		if int64(len(data)) > deps.Config.Security.MaxFileSize {
			return mcp.NewToolResultError(fmt.Sprintf("file exceeds size limit: %d > %d bytes", len(data), deps.Config.Security.MaxFileSize)), nil
		}

		err = deps.Containers.UploadFile(ctx, ctid, containerPath, data,
			request.GetInt("permissions", 0),
			request.GetBool("overwrite", false),
			deps.Config.Security.DefaultTimeout,
		)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return jsonResult(&containerFileResult{
			Success:          true,
			Message:          fmt.Sprintf("Successfully uploaded to container %d: %s", ctid, containerPath),
			CTID:             ctid,
			ContainerPath:    containerPath,
			BytesTransferred: int64(len(data)),
		})
	}
}

func containerDownloadTool() mcp.Tool {
	return mcp.NewTool(providers.ToolContainerDownload,
		mcp.WithDescription("Download a file from an LXC container to the server's filesystem, staged through the managed host"),
		mcp.WithNumber("ctid",
			mcp.Required(),
			mcp.Description("Container ID to download from"),
		),
		mcp.WithString("container_path",
			mcp.Required(),
			mcp.Description("Source file path inside the container"),
		),
		mcp.WithString("local_path",
			mcp.Required(),
			mcp.Description("Destination file path on the server"),
		),
		mcp.WithBoolean("overwrite",
			mcp.Description("Replace the destination if it exists"),
		),
	)
}

func handleContainerDownload(deps Deps) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctid := request.GetInt("ctid", 0)
		containerPath := request.GetString("container_path", "")
		localPath := request.GetString("local_path", "")

		if !request.GetBool("overwrite", false) {
			if _, err := os.Stat(localPath); err == nil {
				return mcp.NewToolResultError(fmt.Sprintf("local file already exists: %s, set overwrite=true to replace it", localPath)), nil
			}
		}

		data, err := deps.Containers.DownloadFile(ctx, ctid, containerPath, deps.Config.Security.DefaultTimeout)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cannot write local file: %v", err)), nil
		}

		return jsonResult(&containerFileResult{
			Success:          true,
			Message:          fmt.Sprintf("Successfully downloaded from container %d: %s", ctid, containerPath),
			CTID:             ctid,
			ContainerPath:    containerPath,
			BytesTransferred: int64(len(data)),
		})
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
