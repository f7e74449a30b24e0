package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

const ownerKeyHeader = "X-Owner-Key"

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	a := app.New()
	w := a.NewWindow("SAADverse Presale Admin")
	w.Resize(fyne.NewSize(980, 720))

	cli := &http.Client{Timeout: 30 * time.Second}

	apiEntry := widget.NewEntry(); apiEntry.SetText(defaultStr(os.Getenv("PRESALE_API"), "http://127.0.0.1:8080"))
	keyEntry := widget.NewPasswordEntry(); keyEntry.SetText(os.Getenv("OWNER_API_KEY"))

	statusLabel := widget.NewLabel("status: (not loaded)")
	statusLabel.Wrapping = fyne.TextWrapWord
	phasesLabel := widget.NewLabel("")
	phasesLabel.Wrapping = fyne.TextWrapWord

	refresh := func() {
		go func() {
			st, err := getJSON(cli, apiEntry.Text+"/api/v1/status")
			if err != nil {
				statusLabel.SetText("status: " + err.Error())
				return
			}
			ph, _ := getJSON(cli, apiEntry.Text+"/api/v1/phases")
			statusLabel.SetText("status: " + st)
			phasesLabel.SetText("phases: " + ph)
		}()
	}

	adminPost := func(path string, body any) {
		go func() {
			out, err := postJSON(cli, apiEntry.Text+path, keyEntry.Text, body)
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			dialog.ShowInformation("Result", out, w)
			refresh()
		}()
	}

	globalsCard := widget.NewCard("Connection", "", widget.NewForm(
		widget.NewFormItem("API URL", apiEntry),
		widget.NewFormItem("Owner key", keyEntry),
		widget.NewFormItem("", widget.NewButton("Refresh", refresh)),
	))

	stateCard := widget.NewCard("Sale state", "", container.NewVBox(statusLabel, phasesLabel))

	// ---------- Pause / resume / whitelist ----------
	wlCheck := widget.NewCheck("Whitelist required", nil)
	controlCard := widget.NewCard("Controls", "", container.NewVBox(
		container.NewGridWithColumns(2,
			widget.NewButton("Pause", func(){ adminPost("/api/v1/admin/pause", struct{}{}) }),
			widget.NewButton("Resume", func(){ adminPost("/api/v1/admin/resume", struct{}{}) }),
		),
		container.NewGridWithColumns(2,
			wlCheck,
			widget.NewButton("Apply whitelist flag", func(){
				adminPost("/api/v1/admin/whitelist-required", map[string]bool{"required": wlCheck.Checked})
			}),
		),
	))

	// ---------- Advance phase ----------
	carryCheck := widget.NewCheck("Carry unsold into next cap", nil)
	advanceCard := widget.NewCard("Advance phase", "", container.NewVBox(
		carryCheck,
		widget.NewButton("Advance", func(){
			dialog.ShowConfirm("Advance phase", "Move the sale to the next phase?", func(ok bool){
				if ok { adminPost("/api/v1/admin/advance", map[string]bool{"carryOver": carryCheck.Checked}) }
			}, w)
		}),
	))

	// ---------- Whitelist entry ----------
	wlAddr := widget.NewEntry(); wlAddr.SetPlaceHolder("0x…")
	wlAllowed := widget.NewCheck("Allowed", nil)
	wlCard := widget.NewCard("Whitelist address", "", widget.NewForm(
		widget.NewFormItem("Address", wlAddr),
		widget.NewFormItem("", wlAllowed),
		widget.NewFormItem("", widget.NewButton("Apply", func(){
			if !common.IsHexAddress(wlAddr.Text) { dialog.ShowError(fmt.Errorf("invalid address"), w); return }
			adminPost("/api/v1/admin/whitelist", map[string]any{"address": wlAddr.Text, "allowed": wlAllowed.Checked})
		})),
	))

	// ---------- Receivers ----------
	ethRcv := widget.NewEntry(); ethRcv.SetText(os.Getenv("ETH_RECEIVER"))
	usdtRcv := widget.NewEntry(); usdtRcv.SetText(os.Getenv("USDT_RECEIVER"))
	receiversCard := widget.NewCard("Receivers", "", widget.NewForm(
		widget.NewFormItem("ETH receiver", ethRcv),
		widget.NewFormItem("USDT receiver", usdtRcv),
		widget.NewFormItem("", widget.NewButton("Apply", func(){
			if !common.IsHexAddress(ethRcv.Text) || !common.IsHexAddress(usdtRcv.Text) {
				dialog.ShowError(fmt.Errorf("invalid receiver address"), w); return
			}
			adminPost("/api/v1/admin/receivers", map[string]string{"ethReceiver": ethRcv.Text, "stableReceiver": usdtRcv.Text})
		})),
	))

	// ---------- Phase parameters ----------
	phaseIdx := widget.NewEntry(); phaseIdx.SetText("0")
	deadlineEntry := widget.NewEntry(); deadlineEntry.SetPlaceHolder("unix seconds, 0 = none")
	capEntry := widget.NewEntry(); capEntry.SetPlaceHolder("whole tokens")
	priceEntry := widget.NewEntry(); priceEntry.SetPlaceHolder("usd6 per token, 1600 = $0.0016")
	phaseCard := widget.NewCard("Phase parameters", "", widget.NewForm(
		widget.NewFormItem("Phase index", phaseIdx),
		widget.NewFormItem("Deadline", container.NewBorder(nil, nil, nil,
			widget.NewButton("Set", func(){
				idx, dl := atoi(phaseIdx.Text, -1), atoi64(deadlineEntry.Text, 0)
				adminPost("/api/v1/admin/phase-deadline", map[string]any{"index": idx, "deadlineUnix": dl})
			}), deadlineEntry)),
		widget.NewFormItem("Cap", container.NewBorder(nil, nil, nil,
			widget.NewButton("Set", func(){
				cap18, err := toUnits18(capEntry.Text)
				if err != nil { dialog.ShowError(err, w); return }
				adminPost("/api/v1/admin/phase-cap", map[string]any{"index": atoi(phaseIdx.Text, -1), "cap18": cap18})
			}), capEntry)),
		widget.NewFormItem("Price", container.NewBorder(nil, nil, nil,
			widget.NewButton("Set", func(){
				adminPost("/api/v1/admin/phase-price", map[string]any{"index": atoi(phaseIdx.Text, -1), "priceUsd6": strings.TrimSpace(priceEntry.Text)})
			}), priceEntry)),
	))

	// ---------- Withdraw unsold ----------
	wdTo := widget.NewEntry(); wdTo.SetPlaceHolder("0x…")
	wdAmt := widget.NewEntry(); wdAmt.SetPlaceHolder("whole tokens")
	withdrawCard := widget.NewCard("Withdraw unsold", "", widget.NewForm(
		widget.NewFormItem("To", wdTo),
		widget.NewFormItem("Amount", wdAmt),
		widget.NewFormItem("", widget.NewButton("Withdraw", func(){
			if !common.IsHexAddress(wdTo.Text) { dialog.ShowError(fmt.Errorf("invalid address"), w); return }
			amt18, err := toUnits18(wdAmt.Text)
			if err != nil { dialog.ShowError(err, w); return }
			dialog.ShowConfirm("Withdraw", "Send "+wdAmt.Text+" SQ8 to "+wdTo.Text+"?", func(ok bool){
				if ok { adminPost("/api/v1/admin/withdraw", map[string]string{"to": wdTo.Text, "amount18": amt18}) }
			}, w)
		})),
	))

	// ---------- End presale ----------
	startEntry := widget.NewEntry(); startEntry.SetPlaceHolder("unix seconds, empty = now")
	cliffEntry := widget.NewEntry(); cliffEntry.SetText("0")
	durEntry := widget.NewEntry(); durEntry.SetText(strconv.Itoa(180*24*3600))
	endCard := widget.NewCard("End presale / start vesting", "", widget.NewForm(
		widget.NewFormItem("Claim start", startEntry),
		widget.NewFormItem("Cliff (s)", cliffEntry),
		widget.NewFormItem("Duration (s)", durEntry),
		widget.NewFormItem("", widget.NewButton("End presale", func(){
			start := atoi64(startEntry.Text, 0)
			if start == 0 { start = time.Now().Unix() }
			dialog.ShowConfirm("End presale", "This is permanent. Start vesting now?", func(ok bool){
				if !ok { return }
				adminPost("/api/v1/admin/end", map[string]int64{
					"claimStartUnix":  start,
					"cliffSeconds":    atoi64(cliffEntry.Text, 0),
					"durationSeconds": atoi64(durEntry.Text, 0),
				})
			}, w)
		})),
	))

	left := container.NewVBox(globalsCard, stateCard, controlCard, advanceCard, wlCard)
	right := container.NewVBox(receiversCard, phaseCard, withdrawCard, endCard)
	w.SetContent(container.NewHScroll(container.NewGridWithColumns(2, container.NewVScroll(left), container.NewVScroll(right))))

	refresh()
	w.ShowAndRun()
}

func getJSON(cli *http.Client, url string) (string, error) {
	resp, err := cli.Get(url)
	if err != nil { return "", err }
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil { return "", err }
	return string(raw), nil
}

func postJSON(cli *http.Client, url, key string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil { return "", err }
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil { return "", err }
	req.Header.Set("Content-Type", "application/json")
	if key != "" { req.Header.Set(ownerKeyHeader, key) }
	resp, err := cli.Do(req)
	if err != nil { return "", err }
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil { return "", err }
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("[%d] %s", resp.StatusCode, string(out))
	}
	return string(out), nil
}

func defaultStr(v, d string) string { if strings.TrimSpace(v)=="" { return d }; return v }
func atoi(s string, d int) int { n, err := strconv.Atoi(strings.TrimSpace(s)); if err!=nil { return d }; return n }
func atoi64(s string, d int64) int64 { n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); if err!=nil { return d }; return n }

// toUnits18 parses a whole-token amount into an 18dp decimal string.
func toUnits18(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" { return "", fmt.Errorf("amount is empty") }
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 18 { frac = frac[:18] }
	frac = frac + strings.Repeat("0", 18-len(frac))
	out := strings.TrimLeft(whole+frac, "0")
	if out == "" { out = "0" }
	for _, c := range out {
		if c < '0' || c > '9' { return "", fmt.Errorf("not a number: %q", s) }
	}
	return out, nil
}
