package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HenryLai921/share-files/internal/client"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	server := flag.String("server", envOr("SHAREFILES_SERVER", "http://localhost:8080"), "server base URL")
	user := flag.String("user", os.Getenv("SHAREFILES_USER"), "username")
	pass := flag.String("pass", os.Getenv("SHAREFILES_PASSWORD"), "password")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <file> [<file>...]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *user == "" || *pass == "" {
		fmt.Fprintln(os.Stderr, "Error: -user and -pass are required (or SHAREFILES_USER/SHAREFILES_PASSWORD)")
		os.Exit(1)
	}

	paths, err := client.ParseArgs(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	c, err := client.New(*server)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := c.Login(ctx, *user, *pass); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for _, path := range paths {
		result, err := c.Upload(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error uploading %s: %v\n", path, err)
			os.Exit(1)
		}

		fmt.Printf("%s -> %s\n", result.Filename, result.DownloadURL)
		if result.Notice != "" {
			fmt.Printf("  note: stored as %q (%s)\n", result.Filename, result.Notice)
		}
	}
}
