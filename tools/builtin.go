package tools

// RegisterBuiltins registers the schemas for the filesystem and shell
// tools a sandboxed agent process may be allowed to call. The daemon
// never runs these itself; it only validates a mission's or session's
// allowed-tool list against these names before passing the resolved
// list on to the adapter subprocess.
func (t *Tools) RegisterBuiltins() {
	t.Register("read_file", ToolDef{
		Description: "Read the contents of a file",
		Params: map[string]ParamDef{
			"path": {Type: "string", Description: "File path", Required: true},
		},
	})

	t.Register("write_file", ToolDef{
		Description: "Write content to a file",
		Params: map[string]ParamDef{
			"path":        {Type: "string", Description: "File path", Required: true},
			"content":     {Type: "string", Description: "Content to write", Required: true},
			"description": {Type: "string", Description: "Optional description of why this file is being written"},
		},
	})

	t.Register("list_files", ToolDef{
		Description: "List files in a directory",
		Params: map[string]ParamDef{
			"path": {Type: "string", Description: "Directory path", Required: true},
		},
	})

	t.Register("append_file", ToolDef{
		Description: "Append content to a file",
		Params: map[string]ParamDef{
			"path":        {Type: "string", Description: "File path", Required: true},
			"content":     {Type: "string", Description: "Content to append", Required: true},
			"description": {Type: "string", Description: "Optional description of why this file is being written"},
		},
	})

	t.Register("exec", ToolDef{
		Description: "Execute a shell command inside the workspace sandbox",
		Params: map[string]ParamDef{
			"command":         {Type: "string", Description: "Shell command to run (executed via sh -c)", Required: true},
			"workdir":         {Type: "string", Description: "Subdirectory within the workspace to run the command in"},
			"timeout_seconds": {Type: "number", Description: "Max seconds to wait before killing the command (default 60)"},
		},
	})

	RegisterEmailTool(t)
}
