package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"process", "serve", "render", "fetch", "datasets"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "densimap", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestProcessCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"boundaries", "population", "out", "save", "join-key", "source-epsg"} {
		flag := processCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "process should have --%s flag", flagName)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRenderCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"dataset", "year", "width", "stroke"} {
		flag := renderCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "render should have --%s flag", flagName)
	}

	out := renderCmd.Flags().Lookup("out")
	require.NotNil(t, out)
	assert.Equal(t, "map.png", out.DefValue)
	assert.Equal(t, "o", out.Shorthand)
}

func TestFetchCommand_Flags(t *testing.T) {
	out := fetchCmd.Flags().Lookup("out")
	require.NotNil(t, out)
	assert.Equal(t, ".", out.DefValue)

	conc := fetchCmd.Flags().Lookup("concurrency")
	require.NotNil(t, conc)
	assert.Equal(t, "3", conc.DefValue)
}

func TestDatasetsCommand_HasSubcommands(t *testing.T) {
	cmds := datasetsCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"list", "show", "delete"}
	for _, name := range expected {
		assert.True(t, names[name], "datasets should have subcommand %q", name)
	}
}
