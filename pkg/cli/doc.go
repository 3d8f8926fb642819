/*
Package cli holds the helpers shared by the gatekeeper commands.

Output goes through a Formatter so every command supports the same formats:

	f, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	return f.FormatTo(cmd.OutOrStdout(), results)

Values implementing Table render as aligned columns in text mode and as
rows in CSV mode.

Commands that run until interrupted derive their context from
SignalContext, which is cancelled on SIGINT or SIGTERM.
*/
package cli
