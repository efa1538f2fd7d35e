package main

import (
	"bytes"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/blemidi/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
)

// CommandTestSuite holds command testing utilities shared by cmd/blemidi suites.
type CommandTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (s *CommandTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	resetFlags()
}

// resetFlags restores package-level flag variables between command executions
func resetFlags() {
	decodeFile, decodeFormat, decodeStats = "", "", false
	listenTimeout, listenDuration, listenMTU, listenFormat, listenQueue, listenDiag = 0, 0, 0, "", 0, false
	scanDuration, scanAll, scanName, scanServices = 0, false, "", nil
	sendTimeout, sendMTU, sendPacketSize, sendDryRun = 0, 0, 0, false
	for _, cmd := range []*cobra.Command{rootCmd, scanCmd, listenCmd, decodeCmd, sendCmd} {
		cmd.Flags().Visit(func(f *pflag.Flag) { f.Changed = false })
	}
	_ = rootCmd.PersistentFlags().Set("log-level", "")
	_ = rootCmd.PersistentFlags().Set("verbose", "false")
	_ = rootCmd.PersistentFlags().Set("config", "")
}

// ExecuteCommand runs rootCmd with args, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}
