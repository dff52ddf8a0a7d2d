package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iho/shardbank/internal/adapter/http/dto"
)

var (
	baseURL string
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "shardbank-cli",
		Short: "ShardBank CLI tool",
		Long:  `A command line interface for interacting with the ShardBank API.`,
	}

	rootCmd.PersistentFlags().StringVar(&baseURL, "url", "http://localhost:8080", "Base URL of the ShardBank API")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "Request timeout")

	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account operations",
	}

	openCmd := &cobra.Command{
		Use:   "open [opening-balance]",
		Short: "Open a new account",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			openAccount(args[0])
		},
	}

	getCmd := &cobra.Command{
		Use:   "get [account-id]",
		Short: "Show an account's current state",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			getAccount(args[0])
		},
	}

	accountsCmd.AddCommand(openCmd, getCmd)
	rootCmd.AddCommand(accountsCmd)

	transferCmd := &cobra.Command{
		Use:   "transfer [sender-id] [receiver-id] [amount]",
		Short: "Transfer money between accounts",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			transfer(args[0], args[1], args[2])
		},
	}
	rootCmd.AddCommand(transferCmd)

	revenueCmd := &cobra.Command{
		Use:   "revenue",
		Short: "Show total fee revenue",
		Run: func(cmd *cobra.Command, args []string) {
			revenue()
		},
	}
	rootCmd.AddCommand(revenueCmd)

	walkthroughCmd := &cobra.Command{
		Use:   "walkthrough",
		Short: "Run a small end-to-end demo transfer",
		Run: func(cmd *cobra.Command, args []string) {
			walkthrough()
		},
	}
	rootCmd.AddCommand(walkthroughCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openAccount(balance string) {
	amount := mustDecimal(balance)

	var resp dto.AccountResponse
	postJSON("/api/v1/accounts", dto.OpenAccountRequest{OpeningBalance: amount}, &resp)

	fmt.Printf("Account opened\n")
	fmt.Printf("ID:      %s\n", resp.ID)
	fmt.Printf("Balance: %s\n", resp.Balance)
}

func getAccount(id string) {
	var resp dto.AccountResponse
	getJSON("/api/v1/accounts/"+id, &resp)

	fmt.Printf("ID:      %s\n", resp.ID)
	fmt.Printf("Balance: %s\n", resp.Balance)
	fmt.Printf("Opened:  %v\n", resp.Opened)
	fmt.Printf("Version: %d\n", resp.Version)
}

func transfer(senderID, receiverID, amount string) {
	var resp dto.TransferResponse
	postJSON("/api/v1/transfers", dto.TransferRequest{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Amount:     mustDecimal(amount),
	}, &resp)

	fmt.Printf("Transfer %s\n", resp.TransactionID)
	if resp.Accepted {
		fmt.Printf("Accepted: %s -> %s (%s)\n", resp.SenderID, resp.ReceiverID, resp.Amount)
	} else {
		fmt.Printf("Rejected: %s\n", resp.Reason)
		os.Exit(1)
	}
}

func revenue() {
	var resp dto.RevenueResponse
	getJSON("/api/v1/revenue", &resp)

	fmt.Printf("Revenue: %s (%d fee events)\n", resp.Total, resp.Count)
}

// walkthrough opens two accounts, moves money between them, and prints the
// resulting balances and fee revenue.
func walkthrough() {
	var sender dto.AccountResponse
	postJSON("/api/v1/accounts", dto.OpenAccountRequest{
		OpeningBalance: mustDecimal("509.23"),
	}, &sender)
	fmt.Printf("Opened sender   %s with balance %s\n", sender.ID, sender.Balance)

	var receiver dto.AccountResponse
	postJSON("/api/v1/accounts", dto.OpenAccountRequest{
		OpeningBalance: mustDecimal("30.45"),
	}, &receiver)
	fmt.Printf("Opened receiver %s with balance %s\n", receiver.ID, receiver.Balance)

	var tr dto.TransferResponse
	postJSON("/api/v1/transfers", dto.TransferRequest{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Amount:     mustDecimal("125.23"),
	}, &tr)

	if !tr.Accepted {
		fmt.Printf("Transfer rejected: %s\n", tr.Reason)
		os.Exit(1)
	}
	fmt.Printf("Transferred 125.23 (transaction %s)\n", tr.TransactionID)

	// The credit leg settles asynchronously.
	time.Sleep(2 * time.Second)

	var senderState, receiverState dto.AccountResponse
	getJSON("/api/v1/accounts/"+sender.ID, &senderState)
	getJSON("/api/v1/accounts/"+receiver.ID, &receiverState)

	fmt.Printf("Sender balance:   %s\n", senderState.Balance)
	fmt.Printf("Receiver balance: %s\n", receiverState.Balance)

	var rev dto.RevenueResponse
	getJSON("/api/v1/revenue", &rev)
	fmt.Printf("Fee revenue:      %s (%d fee events)\n", rev.Total, rev.Count)
}

func mustDecimal(s string) decimal.Decimal {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		fmt.Printf("Invalid amount %q: %v\n", s, err)
		os.Exit(1)
	}

	return amount
}

func postJSON(path string, payload any, out any) {
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("Failed to encode request: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error making request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	decodeResponse(resp, out)
}

func getJSON(path string, out any) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(baseURL + path)
	if err != nil {
		fmt.Printf("Error making request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) {
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		fmt.Printf("Request FAILED (Status: %d)\nResponse: %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	if err := json.Unmarshal(body, out); err != nil {
		fmt.Printf("Failed to parse response: %v\n", err)
		os.Exit(1)
	}
}
