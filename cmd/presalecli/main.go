package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"golang.org/x/term"

	"github.com/ethereum/go-ethereum/common"
)

const ownerKeyHeader = "X-Owner-Key"

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	base := getenv("PRESALE_API", "http://127.0.0.1:8080")
	ownerKey := getenv("OWNER_API_KEY", "")

	cli := &http.Client{Timeout: 30 * time.Second}

	fmt.Println("=== SAADverse presale console ===")
	fmt.Println("API               :", base)
	fmt.Println("Owner key         :", maskKey(ownerKey))
	fmt.Println("=================================")

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\n 1) status        2) phases        3) vesting info")
		fmt.Println(" 4) buy with ETH  5) buy with USDT 6) claim")
		fmt.Println(" 7) ETH/USD rate  8) audit log     9) admin menu")
		fmt.Println(" q) quit")
		choice := strings.ToLower(readLine(reader, "> "))

		switch choice {
		case "1":
			show(get(cli, base+"/api/v1/status"))
		case "2":
			show(get(cli, base+"/api/v1/phases"))
		case "3":
			addr := readAddr(reader, "Account address: ")
			if addr == "" { continue }
			show(get(cli, base+"/api/v1/vesting?address="+addr))
		case "4":
			buyer := readAddr(reader, "Buyer address: ")
			if buyer == "" { continue }
			wei := readLine(reader, "Amount (wei): ")
			maxCost := readLine(reader, "Max cost usd6 (empty for no bound): ")
			body := map[string]string{"buyer": buyer, "amountWei": wei}
			if maxCost != "" { body["maxCostUsd6"] = maxCost }
			show(post(cli, base+"/api/v1/buy/eth", "", body))
		case "5":
			buyer := readAddr(reader, "Buyer address: ")
			if buyer == "" { continue }
			usd := readLine(reader, "Amount (usd6, e.g. 100000000 = $100): ")
			show(post(cli, base+"/api/v1/buy/usdt", "", map[string]string{"buyer": buyer, "usd6Amount": usd}))
		case "6":
			addr := readAddr(reader, "Account address: ")
			if addr == "" { continue }
			show(post(cli, base+"/api/v1/claim", "", map[string]string{"address": addr}))
		case "7":
			show(get(cli, base+"/api/v1/ethusd"))
		case "8":
			show(get(cli, base+"/api/v1/audit?limit=20"))
		case "9":
			if ownerKey == "" {
				ownerKey = readPassword("Owner API key: ")
			}
			adminMenu(cli, base, ownerKey, reader)
		case "q", "quit", "exit":
			return
		}
	}
}

func adminMenu(cli *http.Client, base, key string, reader *bufio.Reader) {
	for {
		fmt.Println("\n a1) pause         a2) resume          a3) advance phase")
		fmt.Println(" a4) whitelist req a5) whitelist addr  a6) receivers")
		fmt.Println(" a7) phase deadline a8) phase cap      a9) phase price")
		fmt.Println(" a10) withdraw unsold  a11) end presale / start vesting")
		fmt.Println(" b) back")
		choice := strings.ToLower(readLine(reader, "admin> "))

		switch choice {
		case "a1":
			show(post(cli, base+"/api/v1/admin/pause", key, struct{}{}))
		case "a2":
			show(post(cli, base+"/api/v1/admin/resume", key, struct{}{}))
		case "a3":
			carry := yes(readLine(reader, "Carry unsold into next phase cap? [y/N]: "))
			show(post(cli, base+"/api/v1/admin/advance", key, map[string]bool{"carryOver": carry}))
		case "a4":
			req := yes(readLine(reader, "Require whitelist? [y/N]: "))
			show(post(cli, base+"/api/v1/admin/whitelist-required", key, map[string]bool{"required": req}))
		case "a5":
			addr := readAddr(reader, "Address: ")
			if addr == "" { continue }
			allowed := yes(readLine(reader, "Allowed? [y/N]: "))
			show(post(cli, base+"/api/v1/admin/whitelist", key, map[string]any{"address": addr, "allowed": allowed}))
		case "a6":
			eth := readAddr(reader, "ETH receiver: ")
			stable := readAddr(reader, "USDT receiver: ")
			if eth == "" || stable == "" { continue }
			show(post(cli, base+"/api/v1/admin/receivers", key, map[string]string{"ethReceiver": eth, "stableReceiver": stable}))
		case "a7":
			idx := atoi(readLine(reader, "Phase index: "), -1)
			dl := atoi64(readLine(reader, "Deadline (unix, 0 = none): "), 0)
			show(post(cli, base+"/api/v1/admin/phase-deadline", key, map[string]any{"index": idx, "deadlineUnix": dl}))
		case "a8":
			idx := atoi(readLine(reader, "Phase index: "), -1)
			capTok := readLine(reader, "Cap (whole tokens): ")
			cap18, err := toUnits18(capTok)
			if err != nil { fmt.Println("  [!] bad amount:", err); continue }
			show(post(cli, base+"/api/v1/admin/phase-cap", key, map[string]any{"index": idx, "cap18": cap18.String()}))
		case "a9":
			idx := atoi(readLine(reader, "Phase index: "), -1)
			price := readLine(reader, "Price (usd6 per token, e.g. 1600 = $0.0016): ")
			show(post(cli, base+"/api/v1/admin/phase-price", key, map[string]any{"index": idx, "priceUsd6": price}))
		case "a10":
			to := readAddr(reader, "Destination address: ")
			if to == "" { continue }
			amt := readLine(reader, "Amount (whole tokens): ")
			amt18, err := toUnits18(amt)
			if err != nil { fmt.Println("  [!] bad amount:", err); continue }
			show(post(cli, base+"/api/v1/admin/withdraw", key, map[string]string{"to": to, "amount18": amt18.String()}))
		case "a11":
			start := atoi64(readLine(reader, "Claim start (unix, 0 = now): "), 0)
			if start == 0 { start = time.Now().Unix() }
			cliff := atoi64(readLine(reader, "Cliff (seconds): "), 0)
			dur := atoi64(readLine(reader, "Duration (seconds): "), 0)
			if !yes(readLine(reader, "End presale permanently? [y/N]: ")) { continue }
			show(post(cli, base+"/api/v1/admin/end", key, map[string]int64{"claimStartUnix": start, "cliffSeconds": cliff, "durationSeconds": dur}))
		case "b", "back", "q":
			return
		}
	}
}

func get(cli *http.Client, url string) (string, error) {
	resp, err := cli.Get(url)
	if err != nil { return "", err }
	defer resp.Body.Close()
	return readBody(resp)
}

func post(cli *http.Client, url, ownerKey string, body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil { return "", err }
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil { return "", err }
	req.Header.Set("Content-Type", "application/json")
	if ownerKey != "" { req.Header.Set(ownerKeyHeader, ownerKey) }
	resp, err := cli.Do(req)
	if err != nil { return "", err }
	defer resp.Body.Close()
	return readBody(resp)
}

func readBody(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil { return "", err }
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "  ", "  ") == nil {
		return fmt.Sprintf("[%d]\n  %s", resp.StatusCode, pretty.String()), nil
	}
	return fmt.Sprintf("[%d] %s", resp.StatusCode, string(raw)), nil
}

func show(out string, err error) {
	if err != nil { fmt.Println("[ERROR]", err); return }
	fmt.Println(out)
}

func getenv(k, d string) string { v := strings.TrimSpace(os.Getenv(k)); if v=="" { return d }; return v }
func atoi(s string, d int) int { var n int; _,err := fmt.Sscan(strings.TrimSpace(s), &n); if err!=nil { return d }; return n }
func atoi64(s string, d int64) int64 { var n int64; _,err := fmt.Sscan(strings.TrimSpace(s), &n); if err!=nil { return d }; return n }
func yes(s string) bool { s = strings.ToLower(strings.TrimSpace(s)); return s=="y" || s=="yes" }
func maskKey(k string) string { if k=="" { return "(none)" }; if len(k)<=6 { return "***" }; return k[:3]+"…"+k[len(k)-2:] }

// toUnits18 parses a whole-token amount (optionally fractional) into 18dp units.
func toUnits18(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() < 0 { return nil, fmt.Errorf("not a non-negative number: %q", s) }
	r.Mul(r, new(big.Rat).SetInt64(1_000_000_000_000_000_000))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

func readLine(r *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	t, _ := r.ReadString('\n')
	return strings.TrimSpace(t)
}

func readAddr(r *bufio.Reader, prompt string) string {
	v := readLine(r, prompt)
	if !common.IsHexAddress(v) {
		fmt.Println("  [!] invalid address")
		return ""
	}
	return v
}

func readPassword(prompt string) string {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil { fmt.Fprintln(os.Stderr, "failed to read key:", err); os.Exit(1) }
	return strings.TrimSpace(string(b))
}
