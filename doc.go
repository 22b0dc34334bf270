/*
Package fmdata is a client for the FileMaker Data API.

A Client is bound to one database and one layout. It logs in lazily with the
configured account, keeps the session token for every later call and, when the
server reports the token as expired, logs in again and retries the call once.
Concurrent callers share a single login.

	client, err := fmdata.NewClient(&fmdata.Config{
		ServerURL: "https://fm.example.com/fmi/data/vLatest",
		Username:  "admin",
		Password:  os.Getenv("FM_PASSWORD"),
		Database:  "Contacts",
		Layout:    "Web",
	})
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	records, err := client.Search(ctx, []fmdata.Query{{"City": "Paris"}}, []string{"Name"}, true)

Errors are classified into authentication, not-found, validation, decode,
server and transport kinds; use the core.Is* helpers to tell them apart. A find
that matches nothing returns an empty RecordSet, not an error.

Package typed maps records onto Go structs, and package fmtest provides an
in-memory Data API server for tests.
*/
package fmdata
