// Copyright 2023 uhppoted@twyst.co.za. All rights reserved.
// Use of this source code is governed by an MIT-style license
// that can be found in the LICENSE file.

/*
Package sheetsync moves tabular data between a master Google Sheets spreadsheet and its replicas.

sheetsync can be used from the command line but is really intended to be run from a cron job, either
to replicate a single job or to run a whole update pipeline tracked in a control sheet.

sheetsync supports the following commands:

  - authorise, to authorise application access to Google Sheets and Google Drive
  - get, to download a Google Sheets worksheet range as a TSV file
  - put, to store a TSV file to a Google Sheets worksheet
  - replicate, to copy a job's source range to all of its destination spreadsheets
  - run, to run the configured pipeline stages, re-running the steps that did not finish OK
  - status, to display the control sheet status of the pipeline steps
*/
package sheetsync
