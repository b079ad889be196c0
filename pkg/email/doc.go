// Package email sends transactional email.
//
// Sender is implemented by the Postmark client (production) and DevSender,
// which writes each message to a directory as an .html/.json pair so local
// runs never reach a real inbox. NewSender picks one from Config.
//
// Bodies are templ components rendered to a string with Render.
package email
