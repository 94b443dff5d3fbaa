// Copyright 2019-2026 The pynet Authors. SPDX-License-Identifier: CECILL-B

package fit

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
var ProgressbarStyle = progressbar.ThemeASCII

// maxUpdateFrequency is the time between updates of the stats table.
const maxUpdateFrequency = 200 * time.Millisecond

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// progressBar displays the epochs progress and a table with the latest losses.
type progressBar struct {
	numEpochs     int
	hasValidation bool
	bar           *progressbar.ProgressBar

	termenv       *termenv.Output
	statsStyle    lipgloss.Style
	statsTable    *lgtable.Table
	isFirstOutput bool

	updates          chan [][2]string
	asyncUpdatesDone sync.WaitGroup
}

func newProgressBar(numEpochs int, hasValidation bool) *progressBar {
	pBar := &progressBar{
		numEpochs:     numEpochs,
		hasValidation: hasValidation,
		isFirstOutput: true,
		termenv:       termenv.NewOutput(os.Stdout),
		statsStyle:    lipgloss.NewStyle().PaddingLeft(8),
		updates:       make(chan [][2]string, 100),
	}
	pBar.bar = progressbar.NewOptions(numEpochs,
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("epochs"),
		progressbar.OptionSetTheme(ProgressbarStyle),
	)
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.asyncUpdatesDone.Add(1)
	go pBar.drawLoop()
	return pBar
}

// drawLoop draws the updates asynchronously, so a slow terminal doesn't slow down training.
func (pBar *progressBar) drawLoop() {
	defer pBar.asyncUpdatesDone.Done()
	for rows := range pBar.updates {
		amount := 1
	exhaust:
		for {
			select {
			case newRows, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount++
				rows = newRows
			default:
				break exhaust
			}
		}

		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range rows {
			pBar.statsTable.Row(row[0], row[1])
		}
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			// Table rows, plus its 2 border lines, plus the progress bar and the empty line.
			pBar.termenv.CursorPrevLine(len(rows) + 2 + 2)
		}
		pBar.isFirstOutput = false
		fmt.Println(pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount)
		fmt.Println()
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// update enqueues the stats of the last finished epoch.
func (pBar *progressBar) update(history *History) {
	trainStats, _ := history.Last(PhaseTrain)
	rows := [][2]string{
		{"Epoch", fmt.Sprintf("%s of %s", humanize.Comma(int64(trainStats.Epoch)), humanize.Comma(int64(pBar.numEpochs-1)))},
		{"Epoch duration", FormatDuration(trainStats.Duration)},
		{"Train loss", fmt.Sprintf("%.4f (KL %.4f, LL %.4f)", trainStats.Loss, trainStats.KL, trainStats.LL)},
	}
	if pBar.hasValidation {
		valStats, _ := history.Last(PhaseValidation)
		rows = append(rows,
			[2]string{"Validation loss", fmt.Sprintf("%.4f (KL %.4f, LL %.4f)", valStats.Loss, valStats.KL, valStats.LL)},
			[2]string{"Best validation loss", fmt.Sprintf("%.4f (epoch %d)", history.BestLoss, history.BestEpoch)})
	}
	pBar.updates <- rows
}

func (pBar *progressBar) done() {
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	fmt.Println()
}

var durationRegexp = regexp.MustCompile(`(\d+\.?\d*)([µa-z]+)`)

// FormatDuration pretty prints duration without a long list of decimal points.
// Durations of a minute or more are rounded to the second.
func FormatDuration(d time.Duration) string {
	if d >= time.Minute {
		d = d.Round(time.Second)
		hours, minutes, seconds := int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second)
		if hours > 0 {
			return fmt.Sprintf("%dh%02dm%02ds", hours, minutes, seconds)
		}
		return fmt.Sprintf("%dm%02ds", minutes, seconds)
	}
	s := d.String()
	matches := durationRegexp.FindStringSubmatch(s)
	if len(matches) != 3 {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}
