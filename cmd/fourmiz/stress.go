package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/utils"

	"github.com/spf13/cobra"
)

func stressCmd() *cobra.Command {
	var (
		baseURL   string
		orderID   string
		providers int
	)

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Race N providers on one order against a running server",
		Long: `Fire concurrent assign requests from distinct providers at one authorized order.
Exactly one request must succeed; every other provider must see the order as unavailable.

Example:
  fourmiz stress --order 3f0c... --providers 200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return err
			}

			tokens := make([]string, providers)
			for i := range tokens {
				token, _, err := utils.GenerateToken(fmt.Sprintf("stress-provider-%d", i+1), utils.RoleProvider)
				if err != nil {
					return err
				}
				tokens[i] = token
			}

			t := http.DefaultTransport.(*http.Transport).Clone()
			t.MaxIdleConns = providers
			t.MaxIdleConnsPerHost = providers
			client := &http.Client{Transport: t, Timeout: 30 * time.Second}
			url := fmt.Sprintf("%s/api/v1/orders/%s/assign", baseURL, orderID)

			fmt.Printf("开始压测：%d 个 fourmiz 同时抢订单 %s\n", providers, orderID)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				byCode  = map[int]int{}
				winners []string
			)
			start := time.Now()
			for i, token := range tokens {
				wg.Add(1)
				go func(provider int, token string) {
					defer wg.Done()
					status, outcome := assignOnce(client, url, token)

					mu.Lock()
					defer mu.Unlock()
					byCode[status]++
					if status == http.StatusOK && outcome == "assigned" {
						winners = append(winners, fmt.Sprintf("stress-provider-%d", provider+1))
					}
				}(i, token)
			}
			wg.Wait()
			duration := time.Since(start)

			codes := make([]int, 0, len(byCode))
			for code := range byCode {
				codes = append(codes, code)
			}
			sort.Ints(codes)

			fmt.Println("--------------------------------------------------")
			fmt.Printf("压测结束，耗时: %v\n", duration)
			fmt.Printf("QPS: %.2f\n", float64(providers)/duration.Seconds())
			for _, code := range codes {
				fmt.Printf("HTTP %d: %d\n", code, byCode[code])
			}
			fmt.Printf("抢单成功: %d (预期: 1) %v\n", len(winners), winners)
			fmt.Println("--------------------------------------------------")

			if len(winners) > 1 {
				return fmt.Errorf("order %s assigned to %d providers", orderID, len(winners))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&orderID, "order", "", "authorized order to race on")
	cmd.Flags().IntVarP(&providers, "providers", "n", 100, "number of concurrent providers")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

// assignOnce 返回 HTTP 状态码与抢单结果，网络错误记为 0
func assignOnce(client *http.Client, url, token string) (int, string) {
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return 0, ""
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, ""
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, ""
	}
	var result struct {
		Data struct {
			Outcome string `json:"outcome"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &result)
	return resp.StatusCode, result.Data.Outcome
}

func tokenCmd() *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue a signed access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch role {
			case utils.RoleClient, utils.RoleProvider, utils.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			if _, err := config.Load(configPath); err != nil {
				return err
			}
			token, expireAt, err := utils.GenerateToken(args[0], role)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n# expires %s\n", token, expireAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", utils.RoleProvider, "client, provider or admin")
	return cmd
}
