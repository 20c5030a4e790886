package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"reclaim-backtest/services/timeframe"
)

func main() {
	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close,volume)")
	out := flag.String("out", "", "Output CSV path")
	src := flag.String("src", "5m", "Source cadence (e.g., 5m)")
	dst := flag.String("dst", "15m", "Target cadence (e.g., 15m)")
	flag.Parse()

	if *in == "" || *out == "" {
		panic("-in and -out are required")
	}

	bars, err := timeframe.LoadCSV(*in)
	if err != nil {
		panic(err)
	}

	resampled, err := timeframe.Resample(bars, *src, *dst)
	if err != nil {
		panic(err)
	}

	of, err := os.Create(*out)
	if err != nil {
		panic(err)
	}
	defer of.Close()
	w := bufio.NewWriter(of)
	if _, err := w.WriteString("timestamp,open,high,low,close,volume\n"); err != nil {
		panic(err)
	}
	for _, b := range resampled {
		line := fmt.Sprintf("%d,%s,%s,%s,%s,%s\n",
			b.Timestamp, b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String())
		if _, err := w.WriteString(line); err != nil {
			panic(err)
		}
	}
	if err := w.Flush(); err != nil {
		panic(err)
	}
	fmt.Printf("Resampled %d bars (%s) into %d bars (%s)\n", len(bars), *src, len(resampled), *dst)
}
