/*
Package health provides the probes resource drivers use to evaluate the
status of what they manage.

Three checkers implement Checker:

  - ExecChecker runs a shell command, exit code 0 means up
  - TCPChecker dials an address
  - HTTPChecker expects a status code in a StatusRange, 200-399 by default

A Result converts to a resource status with Status. All chains checkers and
stops at the first failure:

	res := health.All(ctx,
		health.NewTCPChecker("127.0.0.1:8080"),
		health.NewHTTPChecker("http://127.0.0.1:8080/health"),
	)
	st := res.Status()
*/
package health
