package main

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/byzantine-generals/consensus"
)

// consoleReporter renders general reports on the terminal.
type consoleReporter struct{}

func (consoleReporter) Report(r consensus.Report) {
	switch r.Kind {
	case consensus.ReportDecision:
		printDecision(r.Decision)
	case consensus.ReportShutdown:
		pterm.Warning.Println(r.String())
	default:
		pterm.Info.Println(r.String())
	}
}

func printDecision(d consensus.Decision) {
	switch d.Outcome {
	case consensus.Executed:
		pterm.Success.Println(d.String())
	case consensus.NotExecuted:
		pterm.Warning.Println(d.String())
	default:
		pterm.Error.Println(d.String())
	}
}

func printDirectiveError(err error) {
	pterm.Error.Println(err.Error())
	pterm.Info.Println(commandList)
}

func printBanner() {
	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("B", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("yzantine ", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("G", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("enerals", pterm.FgDarkGray.ToStyle()),
	).Render()
}

// clusterTable lays out one row per general.
func clusterTable(snaps []consensus.Snapshot) pterm.TableData {
	data := pterm.TableData{{"General", "Address", "Role", "State", "Peers"}}
	for _, s := range snaps {
		peers := make([]string, len(s.Outbound))
		for i, p := range s.Outbound {
			peers[i] = "G" + strconv.Itoa(p)
		}
		role := s.Role
		if s.Role == consensus.Primary.String() {
			role = pterm.LightYellow(s.Role)
		}
		data = append(data, []string{
			"G" + strconv.Itoa(s.ID),
			s.Address,
			role,
			s.State,
			strings.Join(peers, " "),
		})
	}
	return data
}

func printCluster(snaps []consensus.Snapshot) {
	pbox := pterm.DefaultBox.WithLeftPadding(4).WithRightPadding(4).WithTopPadding(1).WithBottomPadding(1)
	table, err := pterm.DefaultTable.WithHasHeader().WithData(clusterTable(snaps)).Srender()
	if err != nil {
		pterm.Error.Println(err.Error())
		return
	}
	pbox.WithTitle(pterm.LightGreen("|CLUSTER|")).WithTitleTopCenter().Println(table)
}

// newLogger builds the slog logger backed by the pterm logger.
func newLogger(level slog.Level) *slog.Logger {
	plevel := pterm.LogLevelInfo
	switch {
	case level <= slog.LevelDebug:
		plevel = pterm.LogLevelDebug
	case level >= slog.LevelError:
		plevel = pterm.LogLevelError
	case level >= slog.LevelWarn:
		plevel = pterm.LogLevelWarn
	}
	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(plevel))
	return slog.New(handler)
}
