package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/luca-patrignani/byzantine-generals/cluster"
	"github.com/luca-patrignani/byzantine-generals/consensus"
)

const commandList = "Commands: g-state | g-state <id> <faulty|non-faulty> | g-add <k> | g-kill <id> | actual-order <attack|retreat> | exit"

type directiveKind int

const (
	listStates directiveKind = iota
	setState
	addGenerals
	killGeneral
	actualOrder
	exitConsole
)

type directive struct {
	kind  directiveKind
	id    int
	count int
	state string
	order string
}

var errEmptyLine = errors.New("empty line")

// parseDirective turns one operator line into a directive. Input is case
// insensitive and surrounding whitespace is ignored.
func parseDirective(line string) (directive, error) {
	parts := strings.Fields(strings.ToLower(line))
	if len(parts) == 0 {
		return directive{}, errEmptyLine
	}
	switch parts[0] {
	case consensus.CmdState:
		switch len(parts) {
		case 1:
			return directive{kind: listStates}, nil
		case 3:
			id, err := parseID(parts[1])
			if err != nil {
				return directive{}, err
			}
			if _, ok := consensus.ParseFaultStatus(parts[2]); !ok {
				return directive{}, fmt.Errorf("%s is not a valid state", parts[2])
			}
			return directive{kind: setState, id: id, state: parts[2]}, nil
		}
		return directive{}, fmt.Errorf("g-state takes no arguments or <id> <faulty|non-faulty>")
	case "g-add":
		if len(parts) != 2 {
			return directive{}, fmt.Errorf("g-add takes exactly one argument")
		}
		k, err := strconv.Atoi(parts[1])
		if err != nil || k <= 0 {
			return directive{}, fmt.Errorf("%s is not a positive integer", parts[1])
		}
		return directive{kind: addGenerals, count: k}, nil
	case consensus.CmdKill:
		if len(parts) != 2 {
			return directive{}, fmt.Errorf("g-kill takes exactly one argument")
		}
		id, err := parseID(parts[1])
		if err != nil {
			return directive{}, err
		}
		return directive{kind: killGeneral, id: id}, nil
	case consensus.CmdActualOrder:
		if len(parts) != 2 || !consensus.ValidOrder(parts[1]) {
			return directive{}, fmt.Errorf("actual-order takes attack or retreat")
		}
		return directive{kind: actualOrder, order: parts[1]}, nil
	case consensus.CmdExit:
		return directive{kind: exitConsole}, nil
	}
	return directive{}, fmt.Errorf("%s is not a valid command", parts[0])
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s is not a valid general id", s)
	}
	return id, nil
}

type console struct {
	coord  *cluster.Coordinator
	logger *slog.Logger
}

// run reads directives from in until exit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	pterm.Info.Println(commandList)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			if c.execute(ctx, line) {
				return nil
			}
		}
	}
}

// execute runs one line and reports whether the console should stop.
func (c *console) execute(ctx context.Context, line string) bool {
	d, err := parseDirective(line)
	if errors.Is(err, errEmptyLine) {
		return false
	}
	if err != nil {
		printDirectiveError(err)
		return false
	}

	switch d.kind {
	case listStates:
		c.coord.ReportStates()
	case setState:
		err = c.coord.SetState(d.id, d.state)
	case addGenerals:
		err = c.coord.Add(ctx, d.count)
	case killGeneral:
		err = c.coord.Kill(d.id)
	case actualOrder:
		var decision consensus.Decision
		decision, err = c.coord.Order(ctx, d.order)
		if decision.Outcome == consensus.TimedOut {
			c.logger.Debug("round timed out", "round", decision.Round, "error", err)
			err = nil
		}
	case exitConsole:
		return true
	}
	if err != nil {
		var qe *cluster.QuorumError
		if errors.As(err, &qe) {
			printDecision(qe.Decision)
			return false
		}
		printDirectiveError(err)
	}
	return false
}
