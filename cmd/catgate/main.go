// Command catgate administers a running catgated and its account store.
//
// Usage:
//
//	catgate accounts list
//	catgate accounts add --endpoint OpenAI --key sk-...
//	catgate pool list
//	catgate pool disable QianWen
//	catgate pool enable QianWen
//	catgate requests --limit 20
package main

func main() {
	Execute()
}
