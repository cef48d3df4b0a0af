// Package model defines the vocabulary shared by the job client, the polling
// runner and the language catalog: jobs and their status state machine,
// execution requests and results, artifacts, languages, and ClientError.
//
// Job status and program success are orthogonal. A job that reaches
// StatusCompleted may carry a Result with Success=false (the program ran and
// failed); StatusFailed, StatusTimeout and StatusCancelled mean the platform
// could not produce a normal result. None of these are client errors.
package model
