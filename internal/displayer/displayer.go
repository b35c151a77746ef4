// Package displayer renders the live terminal dashboard.
package displayer

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"scantool/internal/models"
	"scantool/internal/obd"
)

// dashboardPIDs are the parameters polled while the dashboard runs.
var dashboardPIDs = []byte{
	obd.PIDEngineRPM,
	obd.PIDCoolantTemp,
	obd.PIDVehicleSpeed,
	obd.PIDShortFuelTrim1,
	obd.PIDOilTemp,
}

// Displayer drives the TUI on top of a connected client. It polls the
// dashboard parameters in the background and re-reads trouble codes on
// a slower cadence.
type Displayer struct {
	app      *tview.Application
	tabs     *tview.Pages
	client   *obd.Client
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc

	readingsText *tview.TextView
	statusText   *tview.TextView
	helpText     *tview.TextView
	dtcTable     *tview.Table
}

func New(client *obd.Client, interval time.Duration) *Displayer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Displayer{
		app:      tview.NewApplication(),
		tabs:     tview.NewPages(),
		client:   client,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *Displayer) Run() error {
	if err := d.client.StartMonitoring(d.ctx, d.supportedDashboardPIDs(), d.interval, nil); err != nil {
		return err
	}

	dashboard := d.buildDashboard()
	dtc := d.buildDTC()

	title := tview.NewTextView().SetTextAlign(tview.AlignCenter).SetText("scantool - OBD-II diagnostics")
	d.statusText = tview.NewTextView().SetTextAlign(tview.AlignCenter).SetDynamicColors(true)
	d.helpText = tview.NewTextView().SetTextAlign(tview.AlignCenter)

	headerFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	headerFlex.AddItem(title, 1, 0, false)
	headerFlex.AddItem(d.statusText, 1, 0, false)
	headerFlex.AddItem(d.helpText, 1, 0, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	mainFlex.AddItem(headerFlex, 3, 0, false)

	d.dtcTable = dtc
	d.tabs.AddPage("dashboard", dashboard, true, true)
	d.tabs.AddPage("dtc", dtc, true, false)

	mainFlex.AddItem(d.tabs, 0, 1, true)

	d.app.SetRoot(mainFlex, true)
	d.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q', 'Q':
			d.Shutdown()
			return nil
		case '1':
			d.tabs.SwitchToPage("dashboard")
			return nil
		case '2':
			d.tabs.SwitchToPage("dtc")
			return nil
		case 'c', 'C':
			go d.clearCodes()
			return nil
		}
		return event
	})

	d.updateValues()

	d.app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		d.updateValues()
		return false
	})

	go d.refreshLoop()

	return d.app.Run()
}

func (d *Displayer) Shutdown() {
	d.cancel()
	d.client.StopMonitoring()
	d.app.Stop()
}

func (d *Displayer) buildDashboard() *tview.Flex {
	d.readingsText = tview.NewTextView().SetDynamicColors(true)

	infoFlex := tview.NewFlex().SetDirection(tview.FlexRow)
	infoFlex.AddItem(d.readingsText, 0, 1, false)
	return infoFlex
}

func (d *Displayer) buildDTC() *tview.Table {
	tbl := tview.NewTable().SetBorders(true)
	tbl.SetCell(0, 0, tview.NewTableCell("Code").SetSelectable(false).SetAlign(tview.AlignCenter))
	tbl.SetCell(0, 1, tview.NewTableCell("Status").SetSelectable(false).SetAlign(tview.AlignCenter))
	tbl.SetCell(0, 2, tview.NewTableCell("Description").SetSelectable(false).SetAlign(tview.AlignCenter))
	d.fillDTCTable(tbl)
	return tbl
}

func (d *Displayer) fillDTCTable(tbl *tview.Table) {
	for r := tbl.GetRowCount() - 1; r >= 1; r-- {
		tbl.RemoveRow(r)
	}
	row := 1
	for _, status := range []models.DTCStatus{models.StatusCurrent, models.StatusPending, models.StatusPermanent} {
		for _, code := range d.client.Store().Get(status) {
			tbl.SetCell(row, 0, tview.NewTableCell(code.Code))
			tbl.SetCell(row, 1, tview.NewTableCell(string(code.Status)))
			tbl.SetCell(row, 2, tview.NewTableCell(code.Description))
			row++
		}
	}
	if row == 1 {
		tbl.SetCell(1, 0, tview.NewTableCell("-"))
		tbl.SetCell(1, 1, tview.NewTableCell("-"))
		tbl.SetCell(1, 2, tview.NewTableCell("no codes stored"))
	}
}

func (d *Displayer) updateValues() {
	var text string
	if m := d.client.Monitor(); m != nil {
		for _, r := range m.Latest() {
			text += fmt.Sprintf(" %-28s [green]%7.1f[white] %s\n", r.Name, r.Value, r.Unit)
		}
	}
	if text == "" {
		text = " waiting for data..."
	}
	d.readingsText.SetText(text)

	d.helpText.SetText("[1 - Dashboard] [2 - DTC] [c - Clear codes] [q - Quit]")

	if d.statusText != nil {
		status := "[red]disconnected[white]"
		if d.client.Connected() {
			status = fmt.Sprintf("[green]connected[white] (%s)", d.client.VehicleInfo().Protocol)
		}
		d.statusText.SetText(fmt.Sprintf("Status: %s", status))
	}
}

func (d *Displayer) clearCodes() {
	if err := d.client.ClearDTCs(); err != nil {
		return
	}
	d.refreshDTCs()
	d.app.QueueUpdateDraw(func() {})
}

// refreshDTCs re-reads all three code sets into the store.
func (d *Displayer) refreshDTCs() {
	for _, status := range []models.DTCStatus{models.StatusCurrent, models.StatusPending, models.StatusPermanent} {
		d.client.ReadDTCs(status)
	}
}

func (d *Displayer) refreshLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.refreshDTCs()
			d.app.QueueUpdateDraw(func() {
				if d.dtcTable != nil {
					d.fillDTCTable(d.dtcTable)
				}
			})
		}
	}
}

// supportedDashboardPIDs filters the dashboard set to what the vehicle
// reported in its supported bitmap.
func (d *Displayer) supportedDashboardPIDs() []byte {
	out := make([]byte, 0, len(dashboardPIDs))
	for _, pid := range dashboardPIDs {
		if d.client.Supports(pid) {
			out = append(out, pid)
		}
	}
	if len(out) == 0 {
		out = append(out, obd.PIDEngineRPM, obd.PIDCoolantTemp)
	}
	return out
}
