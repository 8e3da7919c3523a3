package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/modfin/henry/slicez"
	"github.com/ultrazend/relay"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "relay",
		Usage: "a cli for sending email through a relay server",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "host",
				Usage:   "url of the relay api, eg https://relay.example.com",
				EnvVars: []string{"RELAY_HOST"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "key",
				Usage:   "api key",
				EnvVars: []string{"RELAY_API_KEY"},
			},
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Set subject line",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Set from email, 'email' or 'name <email>' is valid",
			},
			&cli.StringSliceFlag{
				Name:  "to",
				Usage: "Set 'to' email, 'email' or 'name <email>' is valid",
			},
			&cli.StringSliceFlag{
				Name:  "cc",
				Usage: "Set cc email, 'email' or 'name <email>' is valid",
			},
			&cli.StringSliceFlag{
				Name:  "bcc",
				Usage: "Set bcc email, 'email' or 'name <email>' is valid",
			},
			&cli.StringFlag{
				Name:  "text",
				Usage: "text content of the mail",
			},
			&cli.StringFlag{
				Name:  "html",
				Usage: "html content of the mail",
			},
		},
		Action: sendmail,

		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "show the state and event history of a sent message",
				ArgsUsage: "<message-id>",
				Action:    status,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "got err", err)
		os.Exit(1)
	}
}

func sendmail(c *cli.Context) error {

	email := relay.NewEmail()
	email.From = relay.NewAddress(c.String("from"))
	email.To = slicez.Map(c.StringSlice("to"), relay.NewAddress)
	email.Cc = slicez.Map(c.StringSlice("cc"), relay.NewAddress)
	email.Bcc = slicez.Map(c.StringSlice("bcc"), relay.NewAddress)
	email.Subject = c.String("subject")
	email.Text = c.String("text")
	email.HTML = c.String("html")

	if len(email.Recipients()) == 0 {
		return errors.New("there has to be at least 1 email to send to, cc or bcc")
	}

	client := relay.NewClient(c.String("key"), c.String("host"))
	result, err := client.Send(c.Context, email)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("send was rejected, %s", result.Error)
	}

	fmt.Println("message_id: ", result.MessageId)
	fmt.Println("tracking_id:", result.TrackingId)
	return nil
}

func status(c *cli.Context) error {
	messageId := c.Args().First()
	if messageId == "" {
		return errors.New("a message id must be provided")
	}

	client := relay.NewClient(c.String("key"), c.String("host"))
	s, err := client.Status(c.Context, messageId)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
