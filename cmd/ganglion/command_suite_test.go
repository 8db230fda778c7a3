package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/ganglion/internal/testutils"
	"github.com/srg/ganglion/pkg/config"
	"github.com/srg/ganglion/pkg/ganglion"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs CLI commands against a mock transport.
type CommandTestSuite struct {
	suite.Suite
	transport *testutils.MockTransport
	board     ganglion.Peripheral
	restore   func()
}

func (s *CommandTestSuite) SetupSuite() {
	color.NoColor = true
}

func (s *CommandTestSuite) SetupTest() {
	s.transport = testutils.NewMockTransport()
	s.board = testutils.CreateBoard("Ganglion-1a2b", "C0:11:22:33:44:55", -55)

	prev := openSession
	openSession = func(cfg *config.Config, logger *logrus.Logger) (*ganglion.Session, error) {
		s.transport.AllowDefaults()
		return ganglion.NewSession(s.transport, cfg, logger), nil
	}
	s.restore = func() { openSession = prev }
}

func (s *CommandTestSuite) TearDownTest() {
	s.restore()
}

// resetFlags restores every flag to its default so commands do not see
// values from a previous test.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ExecuteCommand runs the root command with args and returns stdout and stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	resetFlags(rootCmd)
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

// WriteConfig writes a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(content string) string {
	path := filepath.Join(s.T().TempDir(), "ganglion.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

// AdvertiseOnScan makes the next scan report the given peripherals.
func (s *CommandTestSuite) AdvertiseOnScan(recs ...ganglion.Peripheral) {
	s.transport.On("StartScan", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		for _, rec := range recs {
			s.transport.EmitDiscovered(rec)
		}
	}).Once()
}

// OnWrite runs fn when cmd is written to the board.
func (s *CommandTestSuite) OnWrite(cmd byte, fn func()) {
	s.transport.On("Write", mock.Anything, []byte{cmd}).Return(nil).Run(func(mock.Arguments) {
		fn()
	}).Once()
}
