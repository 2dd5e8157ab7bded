// Package main provides a performance benchmarking tool for the tsmine forge stage.
// It measures corpus aggregation times per repository, running each test multiple
// times, treating the first successful cached run as cold and averaging the rest
// as warm, and writes CSV output for performance analysis and documentation.
//
// Prerequisites:
//   - tsmine binary installed and available in PATH
//   - The repositories cloned under repos-dir and every stage up to compact done
//     under results-dir
//
// Usage: go run benchmark/main.go [repos-dir] [results-dir] [repo...]
package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// BenchmarkResult holds the result of a benchmark run (no-cache average, cold run and average of warm runs).
type BenchmarkResult struct {
	Repository  string
	NoCacheTime string
	ColdTime    string
	WarmTime    string
}

// BenchmarkConfig holds configuration for the benchmark run.
type BenchmarkConfig struct {
	ReposDir    string
	ResultsDir  string
	Timeout     time.Duration
	Workers     int
	NoCacheRuns int
	CacheRuns   int
	TestRepos   []string
}

func main() {
	if len(os.Args) < 4 {
		fmt.Printf("Usage: %s [repos-dir] [results-dir] [repo...]\n", os.Args[0])
		os.Exit(1)
	}

	config := BenchmarkConfig{
		ReposDir:    os.Args[1],
		ResultsDir:  os.Args[2],
		Timeout:     30 * time.Minute,
		Workers:     8,
		NoCacheRuns: 2,
		CacheRuns:   3,
		TestRepos:   os.Args[3:],
	}

	if err := checkPrerequisites(config); err != nil {
		fmt.Printf("Prerequisites check failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Clearing cache...\n")
	clearCmd := exec.Command("tsmine", "cache", "clear")
	if output, err := clearCmd.CombinedOutput(); err != nil {
		fmt.Printf("Warning: failed to clear cache: %v\nOutput: %s\n", err, string(output))
	} else {
		fmt.Printf("Cache cleared successfully\n")
	}

	results := runBenchmarks(config)

	if err := saveResults(results); err != nil {
		fmt.Printf("Failed to save results: %v\n", err)
		os.Exit(1)
	}

	printSummary(results)
}

// checkPrerequisites verifies that the tsmine binary and the compacted smells exist.
func checkPrerequisites(config BenchmarkConfig) error {
	if _, err := exec.LookPath("tsmine"); err != nil {
		return fmt.Errorf("tsmine binary not found in PATH")
	}
	for _, dir := range []string{config.ReposDir, filepath.Join(config.ResultsDir, "smells")} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("%s not found", dir)
		}
	}
	return nil
}

// runBenchmarks executes the forge benchmark for each configured repository.
func runBenchmarks(config BenchmarkConfig) []BenchmarkResult {
	var results []BenchmarkResult

	fmt.Printf("Starting benchmark: %d repos, %v timeout, %d workers, no-cache: %d runs, cache: %d runs\n",
		len(config.TestRepos), config.Timeout, config.Workers, config.NoCacheRuns, config.CacheRuns)

	for _, repo := range config.TestRepos {
		results = append(results, runBenchmarkSuite(config, repo))
	}
	return results
}

// runBenchmarkSuite runs both no-cache and cache benchmarks for one repository.
func runBenchmarkSuite(config BenchmarkConfig, repo string) BenchmarkResult {
	fmt.Printf("Running forge on %s\n", repo)

	runPhase := func(cacheBackend string, numRuns int, phaseName string) (coldTime float64, avgTime string) {
		fmt.Printf("  %s phase (%d runs)\n", phaseName, numRuns)
		cold, times := runBenchmark(config, repo, cacheBackend, numRuns)
		if len(times) == 0 {
			avgTime = "TIMEOUT"
		} else {
			var sum float64
			for _, t := range times {
				sum += t
			}
			avgTime = fmt.Sprintf("%.3fs", sum/float64(len(times)))
		}
		return cold, avgTime
	}

	_, noCacheAvg := runPhase("none", config.NoCacheRuns, "No-cache")
	coldTime, warmAvg := runPhase("sqlite", config.CacheRuns, "Cache")

	coldTimeStr := "TIMEOUT"
	if coldTime > 0 {
		coldTimeStr = fmt.Sprintf("%.3fs", coldTime)
	}

	fmt.Printf("  No-cache average: %s, Cold time: %s, Warm average: %s\n", noCacheAvg, coldTimeStr, warmAvg)

	return BenchmarkResult{
		Repository:  repo,
		NoCacheTime: noCacheAvg,
		ColdTime:    coldTimeStr,
		WarmTime:    warmAvg,
	}
}

// runBenchmark runs forge numRuns times and returns the cold time and warm times.
// The corpus shards of repo are removed before every run so forge recomputes them.
func runBenchmark(config BenchmarkConfig, repo, cacheBackend string, numRuns int) (coldTime float64, warmTimes []float64) {
	args := []string{
		"forge", repo,
		"--repos-dir", config.ReposDir,
		"--results-dir", config.ResultsDir,
		"--workers", fmt.Sprint(config.Workers),
		"--cache-backend", cacheBackend,
		"--color", "no",
	}

	var times []float64
	for run := 1; run <= numRuns; run++ {
		if err := removeCorpusShards(config.ResultsDir, repo); err != nil {
			fmt.Printf("  Warning: %v\n", err)
		}
		start := time.Now()

		cmd := exec.Command("tsmine", args...)

		done := make(chan bool)
		var output []byte
		var cmdErr error

		go func() {
			output, cmdErr = cmd.CombinedOutput()
			done <- true
		}()

		select {
		case <-done:
			if cmdErr == nil && isSuccess(output) {
				times = append(times, time.Since(start).Seconds())
			}
		case <-time.After(config.Timeout):
			_ = cmd.Process.Kill()
			<-done
		}
	}

	if len(times) > 0 {
		coldTime = times[0]
		warmTimes = times[1:]
	}
	return
}

// removeCorpusShards deletes the corpus outputs of every target matching repo.
func removeCorpusShards(resultsDir, repo string) error {
	entries, err := os.ReadDir(filepath.Join(resultsDir, "corpus"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), repo) {
			if err := os.RemoveAll(filepath.Join(resultsDir, "corpus", e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// isSuccess checks if command output indicates successful completion.
func isSuccess(output []byte) bool {
	outputStr := string(output)
	return strings.Contains(outputStr, "records (") && strings.Contains(outputStr, "repositories in")
}

// saveResults writes benchmark results to a timestamped CSV file.
func saveResults(results []BenchmarkResult) error {
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("/tmp/tsmine_benchmark_%s.csv", timestamp)

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close file %s: %v\n", filename, closeErr)
		}
	}()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"repo", "no_cache_avg", "cold_time", "warm_avg"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, result := range results {
		if err := writer.Write([]string{result.Repository, result.NoCacheTime, result.ColdTime, result.WarmTime}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	fmt.Printf("Results saved to %s\n", filename)
	return nil
}

// printSummary displays the final benchmark results summary.
func printSummary(results []BenchmarkResult) {
	fmt.Printf("Benchmark complete\n")
	fmt.Printf("Forge:\n")
	for _, result := range results {
		fmt.Printf("  %-24s: No-cache: %s, Cold: %s, Warm: %s\n", result.Repository, result.NoCacheTime, result.ColdTime, result.WarmTime)
	}
}
